// Package audit appends immutable structured audit events.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/store"
)

// Entry is the caller-facing shape of an audit event
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	ActorType  string
	ActorID    string
	RequestID  string
	IPAddress  string
	DeviceInfo string
	Metadata   map[string]interface{}
}

// Writer records audit entries. Failures are logged and swallowed:
// availability of the delivery flow takes precedence over audit
// completeness.
type Writer struct {
	store store.Store
}

// NewWriter creates an audit writer
func NewWriter(s store.Store) *Writer {
	return &Writer{store: s}
}

// Record appends an audit entry, fire-and-forget
func (w *Writer) Record(ctx context.Context, e Entry) {
	if e.ActorType == "" {
		e.ActorType = models.AuditActorSystem
	}

	row := &models.DeliveryAuditLog{
		ID:         uuid.NewString(),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		RequestID:  e.RequestID,
		IPAddress:  e.IPAddress,
		DeviceInfo: e.DeviceInfo,
		Metadata:   models.JSONB(e.Metadata),
		CreatedAt:  time.Now().UTC(),
	}

	if err := w.store.AppendAudit(ctx, row); err != nil {
		log.Printf("⚠️  Audit write failed (%s/%s %s): %v", e.EntityType, e.EntityID, e.Action, err)
	}
}
