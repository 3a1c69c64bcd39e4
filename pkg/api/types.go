package api

import (
	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
	Path    string   `json:"path,omitempty"` // set on 404 only
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ConfigResponse describes the running build
type ConfigResponse struct {
	Version   string `json:"version"`
	Env       string `json:"env"`
	Region    string `json:"region"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// OrderListResponse is the GET /api/orders body
type OrderListResponse struct {
	Items []orders.View `json:"items"`
}

// PersonaListResponse is the GET /api/personas body
type PersonaListResponse struct {
	Items []personas.Persona `json:"items"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders:tulip"]
}

// WSAck confirms a subscribe or unsubscribe request
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// OrderUpdate is broadcast when an order is accepted
type OrderUpdate struct {
	Type  string      `json:"type"` // "order"
	Order orders.View `json:"order"`
}

// OrdersChannel is the websocket channel carrying a market's accepted orders.
func OrdersChannel(market string) string { return "orders:" + market }
