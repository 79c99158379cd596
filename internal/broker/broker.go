// Package broker provides the follower's venue interface and a paper
// implementation of a USDT-margined futures account.
package broker

import (
	"context"
	"strings"

	"agent-follower/internal/models"
)

// QuoteAsset is appended to source symbols to form venue symbols.
const QuoteAsset = "USDT"

// Broker defines the venue operations the follower needs.
type Broker interface {
	// Account
	GetPositions(ctx context.Context) ([]models.BrokerPosition, error)
	GetAccountInfo(ctx context.Context) (models.AccountInfo, error)

	// Orders
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) (*OrderResult, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Symbols
	ConvertSymbol(symbol string) string
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID  string
	Status   string
	Price    float64
	Quantity float64
	Message  string
}

// ConvertSymbol maps a source symbol ("BTC") to its venue symbol
// ("BTCUSDT"). Venue symbols pass through unchanged.
func ConvertSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.HasSuffix(s, QuoteAsset) {
		return s
	}
	return s + QuoteAsset
}
