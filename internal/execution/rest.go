package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot/internal/clock"
	"tradebot/internal/marketdata"
	"tradebot/internal/model"
	"tradebot/pkg/exchange"
)

// OrderClient is the part of *exchange.Client RESTGateway uses.
type OrderClient interface {
	PlaceOrder(ctx context.Context, p exchange.OrderParams) (*exchange.OrderResponse, error)
	SetTimeOffset(ms int64)
}

// RESTGateway sends market orders to the exchange.
type RESTGateway struct {
	client OrderClient
	clock  clock.OffsetSource

	// QuantityDecimals is the lot precision; quantities are truncated to it.
	QuantityDecimals int32
}

// NewRESTGateway wraps client. offsets may be nil.
func NewRESTGateway(client OrderClient, offsets clock.OffsetSource, quantityDecimals int32) *RESTGateway {
	return &RESTGateway{client: client, clock: offsets, QuantityDecimals: quantityDecimals}
}

func (g *RESTGateway) Submit(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	if req.Side != model.Buy && req.Side != model.Sell {
		return model.Fill{}, fmt.Errorf("%w: side %s", ErrInvalidOrder, req.Side)
	}
	qty := decimal.NewFromFloat(req.Size).Truncate(g.QuantityDecimals)
	if !qty.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: size %g rounds to zero at %d decimals", ErrInvalidOrder, req.Size, g.QuantityDecimals)
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if g.clock != nil {
		g.client.SetTimeOffset(g.clock.OffsetMillis(ctx))
	}

	resp, err := g.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol:           marketdata.ExchangeSymbol(req.Symbol),
		Side:             req.Side.String(),
		Type:             "MARKET",
		Quantity:         qty.String(),
		NewClientOrderID: clientID,
	})
	if err != nil {
		return model.Fill{}, classify(err)
	}
	return fillFromResponse(req, clientID, resp)
}

// classify maps exchange failures onto the gateway sentinels.
func classify(err error) error {
	if exchange.IsTransport(err) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case exchange.CodeInsufficientBalance:
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		case exchange.CodeInvalidTimestamp:
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		default:
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
	}
	return err
}

// fillFromResponse averages the execution price over the quote quantity
// and sums commissions.
func fillFromResponse(req model.OrderRequest, clientID string, resp *exchange.OrderResponse) (model.Fill, error) {
	executed, err := decimal.NewFromString(resp.ExecutedQty)
	if err != nil {
		return model.Fill{}, fmt.Errorf("parse executed qty %q: %w", resp.ExecutedQty, err)
	}
	if !executed.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: order %s not executed (status %s)", ErrInvalidOrder, resp.OrderID, resp.Status)
	}
	price := decimal.NewFromFloat(req.Price)
	if quote, err := decimal.NewFromString(resp.CummulativeQuoteQty); err == nil && quote.IsPositive() {
		price = quote.Div(executed)
	}
	fee := decimal.Zero
	for _, f := range resp.Fills {
		if c, err := decimal.NewFromString(f.Commission); err == nil {
			fee = fee.Add(c)
		}
	}

	ts := time.Now().UTC()
	if resp.TransactTime > 0 {
		ts = time.UnixMilli(resp.TransactTime).UTC()
	}
	return model.Fill{
		OrderID:   resp.OrderID.String(),
		ClientID:  clientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Size:      executed.InexactFloat64(),
		Price:     price.InexactFloat64(),
		Fee:       fee.InexactFloat64(),
		Status:    resp.Status,
		Timestamp: ts,
	}, nil
}
