// Package erp abstracts the external order-of-record system. The delivery
// core only ever sees OrderSnapshotProvider, so a different ERP can be
// substituted without touching the confirmation protocol.
package erp

import (
	"context"
)

// OrderItem is one line of the public order view
type OrderItem struct {
	Sku           string `json:"sku"`
	Name          string `json:"name"`
	QuantityTotal int    `json:"quantityTotal"`
}

// OrderSnapshot is the normalized public view of an order
type OrderSnapshot struct {
	OrderNumber     string      `json:"orderNumber"`
	CustomerName    string      `json:"customerName"`
	CustomerPhone   string      `json:"customerPhone,omitempty"`
	ShippingAddress string      `json:"shippingAddress"`
	Items           []OrderItem `json:"items"`
}

// SyncEvent notifies the order-of-record system about a delivery outcome
type SyncEvent struct {
	OrderID   string                 `json:"orderId"`
	QrID      string                 `json:"qrId"`
	EventType string                 `json:"eventType"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// OrderSnapshotProvider is the pluggable ERP adapter contract
type OrderSnapshotProvider interface {
	// Code returns the unique code for this provider (e.g., "odoo")
	Code() string

	// Name returns the human-readable name of the provider
	Name() string

	// GetOrderSnapshot returns the public order view, or nil when the
	// order is unknown to the ERP
	GetOrderSnapshot(ctx context.Context, orderID string) (*OrderSnapshot, error)

	// IngestSyncEvent pushes a delivery outcome back to the ERP
	IngestSyncEvent(ctx context.Context, event SyncEvent) error
}
