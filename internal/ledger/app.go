package ledger

import (
	"github.com/tair/stock-ledger/internal/ledger/delivery/events"
	"github.com/tair/stock-ledger/internal/ledger/delivery/http"
)

// Application bundles the delivery surfaces of the ledger service.
type Application struct {
	HTTP   *http.LedgerHandler
	Orders *events.OrderHandler
}

// NewApplication creates the application from its delivery handlers
func NewApplication(httpHandler *http.LedgerHandler, orders *events.OrderHandler) *Application {
	return &Application{
		HTTP:   httpHandler,
		Orders: orders,
	}
}
