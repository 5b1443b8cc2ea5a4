// Package pricing is the read-only menu/pricing collaborator. The order
// engine consumes prices; it does not own menu content.
package pricing

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownItem means the item is not on the tenant's menu.
var ErrUnknownItem = errors.New("pricing: unknown item")

// Quote is the priced menu entry for one item id.
type Quote struct {
	Name      string
	UnitPrice int64 // minor units
}

// Source answers priceFor(itemId, tenantId) lookups.
type Source interface {
	PriceFor(ctx context.Context, tenantID, itemID string) (Quote, error)
}

// StaticMenu is an in-memory Source keyed by tenant then item. Used in tests
// and demo mode; production wires the menu service client here.
type StaticMenu struct {
	menus map[string]map[string]Quote
}

// NewStaticMenu builds a static source. The map is tenant id -> item id -> quote.
func NewStaticMenu(menus map[string]map[string]Quote) *StaticMenu {
	if menus == nil {
		menus = map[string]map[string]Quote{}
	}
	return &StaticMenu{menus: menus}
}

func (m *StaticMenu) PriceFor(_ context.Context, tenantID, itemID string) (Quote, error) {
	tenantID = strings.TrimSpace(tenantID)
	itemID = strings.TrimSpace(itemID)
	menu, ok := m.menus[tenantID]
	if !ok {
		return Quote{}, ErrUnknownItem
	}
	quote, ok := menu[itemID]
	if !ok {
		return Quote{}, ErrUnknownItem
	}
	return quote, nil
}
