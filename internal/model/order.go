package model

import "time"

// OrderRequest is what the live trader hands to an order gateway.
type OrderRequest struct {
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	Side       Signal    `json:"side"` // BUY or SELL
	Size       float64   `json:"size"`
	Price      float64   `json:"price"` // reference price; gateways fill at market
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fill is a gateway execution report.
type Fill struct {
	OrderID   string    `json:"order_id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Side      Signal    `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Status    string    `json:"status"` // FILLED, REJECTED
	Timestamp time.Time `json:"timestamp"`
}
