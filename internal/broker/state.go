package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"agent-follower/internal/models"
)

// PaperState is the persisted form of a PaperBroker.
type PaperState struct {
	Available  float64              `json:"available"`
	MarginType models.MarginType    `json:"margin_type"`
	Positions  []PaperPositionState `json:"positions"`
	Orders     []models.Order       `json:"orders"`
	Prices     map[string]float64   `json:"prices"`
}

// PaperPositionState is one persisted paper position.
type PaperPositionState struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	Entry    float64 `json:"entry"`
	Leverage float64 `json:"leverage"`
	Margin   float64 `json:"margin"`
}

// State captures the broker's positions, resting orders and prices.
// Filled and cancelled orders are not kept.
func (p *PaperBroker) State() PaperState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PaperState{
		Available:  p.available,
		MarginType: p.marginType,
		Prices:     make(map[string]float64, len(p.prices)),
	}
	for _, pos := range p.positions {
		st.Positions = append(st.Positions, PaperPositionState{
			Symbol:   pos.symbol,
			Amount:   pos.amt,
			Entry:    pos.entry,
			Leverage: pos.leverage,
			Margin:   pos.margin,
		})
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })
	for _, o := range p.orders {
		if o.Status == StatusNew {
			st.Orders = append(st.Orders, *o)
		}
	}
	sort.Slice(st.Orders, func(i, j int) bool { return st.Orders[i].PlacedAt.Before(st.Orders[j].PlacedAt) })
	for k, v := range p.prices {
		st.Prices[k] = v
	}
	return st
}

// Restore replaces the broker's state.
func (p *PaperBroker) Restore(st PaperState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available = st.Available
	if st.MarginType != "" {
		p.marginType = st.MarginType
	}
	p.positions = make(map[string]*paperPosition, len(st.Positions))
	for _, s := range st.Positions {
		p.positions[s.Symbol] = &paperPosition{
			symbol:   s.Symbol,
			amt:      s.Amount,
			entry:    s.Entry,
			leverage: s.Leverage,
			margin:   s.Margin,
		}
	}
	p.orders = make(map[string]*models.Order, len(st.Orders))
	for i := range st.Orders {
		o := st.Orders[i]
		p.orders[o.ID] = &o
	}
	p.prices = make(map[string]float64, len(st.Prices))
	for k, v := range st.Prices {
		p.prices[k] = v
	}
}

// SaveState writes the broker state to path atomically.
func (p *PaperBroker) SaveState(path string) error {
	data, err := json.MarshalIndent(p.State(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding paper state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating paper state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing paper state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadPaperBroker creates a paper broker and restores any state saved at
// path. A missing file yields a fresh broker.
func LoadPaperBroker(path string, cfg PaperBrokerConfig) (*PaperBroker, error) {
	b := NewPaperBroker(cfg)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading paper state: %w", err)
	}
	var st PaperState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding paper state %s: %w", path, err)
	}
	b.Restore(st)
	return b, nil
}
