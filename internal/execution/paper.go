package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradebot/internal/model"
)

// PaperGateway simulates fills against a local cash balance.
// Useful for paper trading.
type PaperGateway struct {
	mu       sync.RWMutex
	fills    []model.Fill
	orderSeq int64
	cash     float64
	position float64 // signed base-asset quantity

	// Simulation parameters
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
	feeRate     float64 // fraction of notional
	allowShort  bool
	now         func() time.Time
}

// NewPaperGateway creates a paper gateway holding cash.
func NewPaperGateway(cash, slippageBps, feeRate float64, allowShort bool) *PaperGateway {
	return &PaperGateway{
		fills:       make([]model.Fill, 0, 1000),
		cash:        cash,
		slippageBps: slippageBps,
		feeRate:     feeRate,
		allowShort:  allowShort,
		now:         time.Now,
	}
}

// Fills returns a snapshot of all fills.
func (p *PaperGateway) Fills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Balance returns cash and the signed position.
func (p *PaperGateway) Balance() (cash, position float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash, p.position
}

func (p *PaperGateway) Submit(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	if err := ctx.Err(); err != nil {
		return model.Fill{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if req.Side != model.Buy && req.Side != model.Sell {
		return model.Fill{}, fmt.Errorf("%w: side %s", ErrInvalidOrder, req.Side)
	}
	if !(req.Size > 0) || !(req.Price > 0) {
		return model.Fill{}, fmt.Errorf("%w: size %g price %g", ErrInvalidOrder, req.Size, req.Price)
	}

	// Calculate fill price with simulated slippage
	slip := req.Price * p.slippageBps / 10000
	price := req.Price + slip // buy higher
	if req.Side == model.Sell {
		price = req.Price - slip // sell lower
	}
	notional := req.Size * price
	fee := notional * p.feeRate

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Side {
	case model.Buy:
		if p.position >= 0 && notional+fee > p.cash+1e-9 {
			return model.Fill{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional+fee, p.cash)
		}
		p.cash -= notional + fee
		p.position += req.Size
	case model.Sell:
		if p.position < req.Size-1e-12 && !p.allowShort {
			return model.Fill{}, fmt.Errorf("%w: selling %g with %g held and shorting disabled", ErrInsufficientFunds, req.Size, p.position)
		}
		p.cash += notional - fee
		p.position -= req.Size
	}

	p.orderSeq++
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	fill := model.Fill{
		OrderID:   fmt.Sprintf("PAPER-%d", p.orderSeq),
		ClientID:  clientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Size:      req.Size,
		Price:     price,
		Fee:       fee,
		Status:    "FILLED",
		Timestamp: p.now(),
	}
	p.fills = append(p.fills, fill)

	slog.Debug("paper fill", "order_id", fill.OrderID, "side", req.Side, "size", req.Size,
		"price", price, "slippage", slip, "cash", p.cash)
	return fill, nil
}
