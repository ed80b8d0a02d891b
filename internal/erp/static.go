package erp

import (
	"context"
	"sync"
)

// StaticProvider serves snapshots from memory. Used in tests and as a
// degraded mode when no ERP is configured.
type StaticProvider struct {
	mu     sync.RWMutex
	orders map[string]OrderSnapshot
	events []SyncEvent
}

// NewStaticProvider creates an empty in-memory provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{orders: make(map[string]OrderSnapshot)}
}

// Code returns the provider code
func (p *StaticProvider) Code() string { return "static" }

// Name returns the provider name
func (p *StaticProvider) Name() string { return "Static (in-memory)" }

// AddOrder registers a snapshot for an order id
func (p *StaticProvider) AddOrder(orderID string, snapshot OrderSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[orderID] = snapshot
}

// GetOrderSnapshot returns the stored snapshot, or nil when unknown
func (p *StaticProvider) GetOrderSnapshot(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot, ok := p.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := snapshot
	return &cp, nil
}

// IngestSyncEvent records the event in memory
func (p *StaticProvider) IngestSyncEvent(ctx context.Context, event SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of ingested events, for assertions
func (p *StaticProvider) Events() []SyncEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]SyncEvent(nil), p.events...)
}
