package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tablestack.io/internal/audit"
	"tablestack.io/internal/obs"
	"tablestack.io/internal/order"
	"tablestack.io/internal/payments"
	"tablestack.io/internal/scope"
	"tablestack.io/internal/tenant"
)

type orderItemRequest struct {
	ItemID    string   `json:"item_id"`
	Quantity  int64    `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type createOrderRequest struct {
	Items   []orderItemRequest `json:"items"`
	Channel string             `json:"channel"`
}

type updateStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
}

type paymentRequest struct {
	Amount int64 `json:"amount"`
}

type assignTablesRequest struct {
	Assignments []order.TableAssignment `json:"assignments"`
}

type listOrdersResponse struct {
	Items []order.Order `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

type auditTrailResponse struct {
	OrderID string        `json:"order_id"`
	Entries []audit.Entry `json:"entries"`
}

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		// Guests place orders without logging in; the anonymous path is
		// explicit and carries only the minimal scope set.
		a.secureOptional(scope.OrdersCreate, a.createOrder)(w, r)
	case http.MethodGet:
		a.secure(scope.OrdersRead, a.listOrders)(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(sub, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.secure(scope.OrdersRead, func(w http.ResponseWriter, r *http.Request) {
			a.getOrder(w, r, id)
		})(w, r)
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.secure(scope.OrdersUpdateStatus, func(w http.ResponseWriter, r *http.Request) {
			a.updateStatus(w, r, id)
		})(w, r)
	case "payments":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.secure(scope.PaymentsCapture, func(w http.ResponseWriter, r *http.Request) {
			a.recordPayment(w, r, id, order.PaymentCapture)
		})(w, r)
	case "refunds":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.secure(scope.PaymentsRefund, func(w http.ResponseWriter, r *http.Request) {
			a.recordPayment(w, r, id, order.PaymentRefund)
		})(w, r)
	case "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.secure(scope.ReportsRead, func(w http.ResponseWriter, r *http.Request) {
			a.auditTrail(w, r, id)
		})(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleTableAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	a.secure(scope.TablesUpdate, a.assignTables)(w, r)
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	channel, err := order.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown channel")
		return
	}
	items := make([]order.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.ItemRequest{
			ItemID:    strings.TrimSpace(it.ItemID),
			Quantity:  it.Quantity,
			Modifiers: it.Modifiers,
		})
	}

	o, err := a.engine.Create(r.Context(), order.CreateParams{Items: items, Channel: channel})
	if err != nil {
		obs.ObserveOrderMutation("create", "error")
		handleOrderError(w, r, err)
		return
	}
	obs.ObserveOrderMutation("create", "ok")

	w.Header().Set("Location", "/v1/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request, id string) {
	o, err := a.engine.Get(r.Context(), id)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}
	after := strings.TrimSpace(r.URL.Query().Get("after"))

	items, err := a.engine.List(r.Context(), limit, after)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	// Cancellation is a separate privilege from routine kitchen progression.
	if status == order.StatusCancelled && !requireScope(w, r, scope.OrdersCancel) {
		return
	}

	o, err := a.engine.UpdateStatus(r.Context(), order.UpdateStatusParams{
		OrderID:         id,
		ExpectedVersion: req.ExpectedVersion,
		NewStatus:       status,
		Reason:          strings.TrimSpace(req.Reason),
	})
	if err != nil {
		obs.ObserveOrderMutation("update_status", "error")
		handleOrderError(w, r, err)
		return
	}
	obs.ObserveOrderMutation("update_status", "ok")
	writeJSON(w, http.StatusOK, o)
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request, id string, kind order.PaymentKind) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The Idempotency-Key header is the client's retry token. Resubmitting
	// after a timeout with the same key replays the stored payment instead of
	// charging twice.
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idemKey) > 128 {
		writeError(w, r, http.StatusBadRequest, "idempotency key too long")
		return
	}

	var (
		p   order.Payment
		err error
	)
	switch kind {
	case order.PaymentCapture:
		p, err = a.payments.Capture(r.Context(), id, req.Amount, idemKey)
	case order.PaymentRefund:
		p, err = a.payments.Refund(r.Context(), id, req.Amount, idemKey)
	}
	if err != nil {
		obs.ObserveOrderMutation(string(kind), "error")
		handleOrderError(w, r, err)
		return
	}
	obs.ObserveOrderMutation(string(kind), "ok")
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) auditTrail(w http.ResponseWriter, r *http.Request, id string) {
	// Resolve the order first so an unknown id is a 404 rather than an empty
	// trail.
	o, err := a.engine.Get(r.Context(), id)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	entries, err := a.engine.AuditTrail(r.Context(), id)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{OrderID: o.ID, Entries: entries})
}

func (a *API) assignTables(w http.ResponseWriter, r *http.Request) {
	var req assignTablesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Assignments) == 0 {
		writeError(w, r, http.StatusBadRequest, "assignments are required")
		return
	}
	if len(req.Assignments) > 200 {
		writeError(w, r, http.StatusBadRequest, "too many assignments in one batch")
		return
	}

	affected, err := a.engine.AssignTables(r.Context(), req.Assignments)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": affected})
}

func handleOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *order.ConflictError
	switch {
	case errors.As(err, &conflict):
		obs.ObserveOrderConflict()
		payload := map[string]any{
			"error":           "order was modified concurrently",
			"current_version": conflict.CurrentVersion,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusConflict, payload)
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, payments.ErrDeclined):
		writeError(w, r, http.StatusPaymentRequired, "payment declined")
	case errors.Is(err, order.ErrTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "store timeout; re-read before retrying")
	case errors.Is(err, tenant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "tenant not found")
	default:
		// Includes audit write failures: the mutation was refused, and the
		// caller learns only that the service failed.
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
