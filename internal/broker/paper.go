package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-follower/internal/errors"
	"agent-follower/internal/models"
)

// Order statuses used by the paper venue.
const (
	StatusNew       = "NEW"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELED"
)

// qtyEpsilon treats residual quantities below it as flat.
const qtyEpsilon = 1e-9

// PaperBroker simulates a USDT-margined futures account.
type PaperBroker struct {
	positions map[string]*paperPosition
	orders    map[string]*models.Order
	prices    map[string]float64

	available  float64
	marginType models.MarginType

	mu sync.RWMutex
}

type paperPosition struct {
	symbol   string
	amt      float64 // signed
	entry    float64
	leverage float64
	margin   float64
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	InitialBalance float64
	MarginType     models.MarginType
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initialBalance := cfg.InitialBalance
	if initialBalance == 0 {
		initialBalance = 10000
	}
	marginType := cfg.MarginType
	if marginType == "" {
		marginType = models.MarginCrossed
	}

	return &PaperBroker{
		positions:  make(map[string]*paperPosition),
		orders:     make(map[string]*models.Order),
		prices:     make(map[string]float64),
		available:  initialBalance,
		marginType: marginType,
	}
}

// ConvertSymbol maps a source symbol to a venue symbol.
func (p *PaperBroker) ConvertSymbol(symbol string) string {
	return ConvertSymbol(symbol)
}

// UpdatePrice sets the mark price for a symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[ConvertSymbol(symbol)] = price
}

// PlaceOrder fills MARKET orders immediately at the mark price (or the
// order price when no mark is known) and rests protective orders.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	symbol := ConvertSymbol(order.Symbol)
	orderID := uuid.NewString()
	placed := *order
	placed.ID = orderID
	placed.Symbol = symbol
	placed.PlacedAt = time.Now()

	if order.Type == models.OrderTypeStop || order.Type == models.OrderTypeTakeProfit {
		placed.Status = StatusNew
		p.orders[orderID] = &placed
		return &OrderResult{OrderID: orderID, Status: StatusNew, Quantity: order.Quantity, Message: "Paper protective order placed"}, nil
	}

	price := p.prices[symbol]
	if price <= 0 {
		price = order.Price
	}
	if price <= 0 {
		return nil, errors.NewOrderError(orderID, symbol, string(order.Side), "no price available", errors.ErrInvalidOrder)
	}

	if err := p.fill(symbol, order, price); err != nil {
		return nil, err
	}
	if _, ok := p.prices[symbol]; !ok {
		p.prices[symbol] = price
	}

	placed.Status = StatusFilled
	placed.Price = price
	p.orders[orderID] = &placed

	return &OrderResult{
		OrderID:  orderID,
		Status:   StatusFilled,
		Price:    price,
		Quantity: order.Quantity,
		Message:  "Paper order filled",
	}, nil
}

// fill applies a market fill. Caller holds the lock.
func (p *PaperBroker) fill(symbol string, order *models.Order, price float64) error {
	signed := order.Quantity
	if order.Side == models.OrderSideSell {
		signed = -signed
	}

	pos := p.positions[symbol]
	opposite := pos != nil && pos.amt*signed < 0

	if order.ReduceOnly && !opposite {
		return errors.NewOrderError("", symbol, string(order.Side), "reduce-only order would increase position", errors.ErrInvalidOrder)
	}

	remaining := signed
	if opposite {
		closing := math.Min(math.Abs(signed), math.Abs(pos.amt))
		fraction := closing / math.Abs(pos.amt)
		realized := (price - pos.entry) * closing * sign(pos.amt)
		released := pos.margin * fraction

		p.available += released + realized
		pos.margin -= released
		pos.amt += closing * sign(signed)
		if math.Abs(pos.amt) < qtyEpsilon {
			delete(p.positions, symbol)
			p.cancelProtective(symbol)
			pos = nil
		}

		remaining = signed - closing*sign(signed)
		if order.ReduceOnly || math.Abs(remaining) < qtyEpsilon {
			return nil
		}
	}

	lev := order.Leverage
	if lev <= 0 && pos != nil {
		lev = pos.leverage
	}
	if lev <= 0 {
		lev = 1
	}
	required := math.Abs(remaining) * price / lev
	if required > p.available {
		return errors.NewOrderError("", symbol, string(order.Side),
			fmt.Sprintf("need %.2f margin, have %.2f", required, p.available), errors.ErrInsufficientFunds)
	}
	p.available -= required

	if pos == nil {
		p.positions[symbol] = &paperPosition{
			symbol:   symbol,
			amt:      remaining,
			entry:    price,
			leverage: lev,
			margin:   required,
		}
		return nil
	}

	total := math.Abs(pos.amt) + math.Abs(remaining)
	pos.entry = (pos.entry*math.Abs(pos.amt) + price*math.Abs(remaining)) / total
	pos.amt += remaining
	pos.margin += required
	pos.leverage = lev
	return nil
}

// ClosePosition closes the whole position for symbol at the mark price.
func (p *PaperBroker) ClosePosition(ctx context.Context, symbol string) (*OrderResult, error) {
	venue := ConvertSymbol(symbol)

	p.mu.RLock()
	pos, ok := p.positions[venue]
	var side models.OrderSide
	var qty, entry float64
	if ok {
		side = models.OrderSideSell
		if pos.amt < 0 {
			side = models.OrderSideBuy
		}
		qty = math.Abs(pos.amt)
		entry = pos.entry
	}
	p.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrPositionNotFound, "%s", venue)
	}

	return p.PlaceOrder(ctx, &models.Order{
		Symbol:     venue,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Quantity:   qty,
		Price:      entry,
		ReduceOnly: true,
	})
}

// GetOpenOrders returns resting orders, optionally filtered by symbol.
func (p *PaperBroker) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	venue := ""
	if symbol != "" {
		venue = ConvertSymbol(symbol)
	}

	var orders []models.Order
	for _, o := range p.orders {
		if o.Status != StatusNew {
			continue
		}
		if venue != "" && o.Symbol != venue {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].PlacedAt.Before(orders[j].PlacedAt) })
	return orders, nil
}

// CancelOrder cancels a resting order.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status != StatusNew {
		return fmt.Errorf("cannot cancel order with status: %s", order.Status)
	}
	order.Status = StatusCancelled
	return nil
}

// GetPositions returns open positions marked to the latest price.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]models.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, p.toBrokerPosition(pos))
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccountInfo returns balances including unrealized PnL.
func (p *PaperBroker) GetAccountInfo(ctx context.Context) (models.AccountInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := models.AccountInfo{AvailableBalance: p.available}
	for _, pos := range p.positions {
		info.TotalPositionMargin += pos.margin
		info.TotalUnrealizedPnL += p.unrealized(pos)
	}
	info.TotalWalletBalance = info.AvailableBalance + info.TotalPositionMargin
	return info, nil
}

// Reset clears positions and orders and restores the balance.
func (p *PaperBroker) Reset(initialBalance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = make(map[string]*paperPosition)
	p.orders = make(map[string]*models.Order)
	p.available = initialBalance
}

// RemovePosition drops a position without settling it, leaving any
// protective orders behind. It simulates a liquidation or a manual close on
// another client.
func (p *PaperBroker) RemovePosition(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, ConvertSymbol(symbol))
}

func (p *PaperBroker) toBrokerPosition(pos *paperPosition) models.BrokerPosition {
	bp := models.BrokerPosition{
		Symbol:        pos.symbol,
		PositionAmt:   pos.amt,
		EntryPrice:    pos.entry,
		MarkPrice:     p.mark(pos),
		Leverage:      pos.leverage,
		UnrealizedPnL: p.unrealized(pos),
		MarginType:    p.marginType,
	}
	if p.marginType == models.MarginIsolated {
		bp.IsolatedMargin = pos.margin
	}
	return bp
}

func (p *PaperBroker) mark(pos *paperPosition) float64 {
	if price := p.prices[pos.symbol]; price > 0 {
		return price
	}
	return pos.entry
}

func (p *PaperBroker) unrealized(pos *paperPosition) float64 {
	return (p.mark(pos) - pos.entry) * pos.amt
}

// cancelProtective cancels resting orders for a symbol that is now flat.
// Caller holds the lock.
func (p *PaperBroker) cancelProtective(symbol string) {
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Status == StatusNew {
			o.Status = StatusCancelled
		}
	}
}

func validateOrder(order *models.Order) error {
	if order == nil {
		return errors.ErrInvalidOrder
	}
	if order.Symbol == "" {
		return errors.Wrap(errors.ErrInvalidOrder, "symbol is required")
	}
	if order.Quantity <= 0 {
		return errors.Wrapf(errors.ErrInvalidOrder, "quantity must be positive, got %v", order.Quantity)
	}
	if order.Side != models.OrderSideBuy && order.Side != models.OrderSideSell {
		return errors.Wrapf(errors.ErrInvalidOrder, "unknown side %q", order.Side)
	}
	switch order.Type {
	case models.OrderTypeMarket, "":
	case models.OrderTypeStop, models.OrderTypeTakeProfit:
		if order.StopPrice <= 0 {
			return errors.Wrap(errors.ErrInvalidOrder, "stop price is required")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidOrder, "unsupported order type %q", order.Type)
	}
	return nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
