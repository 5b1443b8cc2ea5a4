package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"tablestack.io/internal/scope"
	"tablestack.io/internal/tenant"
)

// handleEvents streams order status transitions for the caller's tenant over
// Server-Sent Events. Delivery is best effort; kitchen displays reconnect
// and re-read on gaps.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.secure(scope.OrdersRead, a.streamEvents)(w, r)
}

func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	tenantID, err := tenant.Required(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "tenant is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.events.Subscribe(ctx, tenantID)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
