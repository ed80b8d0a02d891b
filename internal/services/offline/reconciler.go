// Package offline reconciles delivery events recorded by devices without
// connectivity. Every item carries a client-computed content hash that
// doubles as the idempotency key: replaying a batch never reapplies side
// effects.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mesanova/entregas/internal/audit"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/store"
	"github.com/mesanova/entregas/internal/token"
)

// Item statuses reported back to the syncing device
const (
	ItemSynced        = "synced"
	ItemAlreadySynced = "already_synced"
	ItemRejected      = "rejected"
)

// Item is one queued offline event as submitted by a device
type Item struct {
	QrID        string          `json:"qrId,omitempty"`
	OrderID     string          `json:"orderId"`
	DeviceID    string          `json:"deviceId"`
	EventType   string          `json:"eventType"`
	Timestamp   string          `json:"timestamp"`
	Gps         string          `json:"gps,omitempty"`
	OfflineHash string          `json:"offlineHash"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ItemResult reports the outcome for one item. Results are positional:
// result i corresponds to item i of the batch.
type ItemResult struct {
	OfflineHash string `json:"offlineHash,omitempty"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// EventSink receives sync events for live dashboards
type EventSink interface {
	Publish(event string, data map[string]interface{})
}

// Reconciler applies offline batches against the QR registry
type Reconciler struct {
	store  store.Store
	hasher *token.Hasher
	audit  *audit.Writer
	events EventSink
	now    func() time.Time
}

// NewReconciler wires the offline sync reconciler
func NewReconciler(s store.Store, hasher *token.Hasher, aw *audit.Writer) *Reconciler {
	return &Reconciler{store: s, hasher: hasher, audit: aw, now: time.Now}
}

// SetEventSink attaches a live event feed
func (r *Reconciler) SetEventSink(sink EventSink) { r.events = sink }

// SetClock overrides the clock, for tests
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Process reconciles a batch. Items are independent: one rejection never
// blocks the rest, and the batch as a whole always succeeds at the
// transport level.
func (r *Reconciler) Process(ctx context.Context, deviceID string, items []Item, requestID string) []ItemResult {
	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		if item.DeviceID == "" {
			item.DeviceID = deviceID
		}
		results = append(results, r.processItem(ctx, item, requestID))
	}
	return results
}

func (r *Reconciler) processItem(ctx context.Context, item Item, requestID string) ItemResult {
	if item.OrderID == "" || item.DeviceID == "" || item.EventType == "" || item.Timestamp == "" || item.OfflineHash == "" {
		// Without a hash there is nothing to key the rejection on
		res := ItemResult{OfflineHash: item.OfflineHash, Status: ItemRejected, Message: "campos_requeridos"}
		if item.OfflineHash != "" {
			r.persist(ctx, item, models.OfflineStatusRejected, res.Message)
		}
		return res
	}

	switch item.EventType {
	case models.OfflineEventConfirmacion, models.OfflineEventFirma, models.OfflineEventSincronizacion:
	default:
		r.persist(ctx, item, models.OfflineStatusRejected, "campos_requeridos")
		return ItemResult{OfflineHash: item.OfflineHash, Status: ItemRejected, Message: "campos_requeridos"}
	}

	// Replay check before anything else: the stored row is authoritative
	existing, err := r.store.GetOfflineEventByHash(ctx, item.OfflineHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ItemResult{OfflineHash: item.OfflineHash, Status: ItemRejected, Message: "error_interno"}
	}
	if existing != nil && existing.SyncStatus == models.OfflineStatusSynced {
		return ItemResult{OfflineHash: item.OfflineHash, Status: ItemAlreadySynced}
	}

	// The server recomputes the content hash from the submitted fields; a
	// mismatch means the payload was altered after the hash was taken
	computed := r.hasher.HashOfflineEvent(item.OrderID, item.Timestamp, item.Gps, item.DeviceID)
	if computed != item.OfflineHash {
		r.persist(ctx, item, models.OfflineStatusRejected, "hash_mismatch")
		return ItemResult{OfflineHash: item.OfflineHash, Status: ItemRejected, Message: "hash_mismatch"}
	}

	if item.EventType == models.OfflineEventConfirmacion && item.QrID != "" {
		if msg := r.applyConfirmation(ctx, item); msg != "" {
			r.persist(ctx, item, models.OfflineStatusRejected, msg)
			return ItemResult{OfflineHash: item.OfflineHash, Status: ItemRejected, Message: msg}
		}
	}

	r.persist(ctx, item, models.OfflineStatusSynced, "")

	r.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityOffline,
		EntityID:   item.OfflineHash,
		Action:     "offline_event_synced",
		ActorType:  models.AuditActorDevice,
		ActorID:    item.DeviceID,
		RequestID:  requestID,
		Metadata:   map[string]interface{}{"order_id": item.OrderID, "event_type": item.EventType},
	})
	if r.events != nil {
		r.events.Publish("offline_event_synced", map[string]interface{}{
			"order_id":   item.OrderID,
			"device_id":  item.DeviceID,
			"event_type": item.EventType,
		})
	}

	return ItemResult{OfflineHash: item.OfflineHash, Status: ItemSynced}
}

// applyConfirmation moves the referenced QR to confirmado. Returns a
// rejection message, or empty on success.
func (r *Reconciler) applyConfirmation(ctx context.Context, item Item) string {
	qr, err := r.store.GetQr(ctx, item.QrID)
	if errors.Is(err, store.ErrNotFound) {
		return "no_encontrado"
	}
	if err != nil {
		return "error_interno"
	}

	switch qr.Status {
	case models.QrStatusConfirmado, models.QrStatusConfirmadoConIncidente:
		// The online path already confirmed this delivery; the offline
		// record is evidence of the same act, not a conflict
		return ""
	case models.QrStatusRechazado, models.QrStatusExpirado:
		return "estado_conflicto"
	}

	now := r.now().UTC()
	moved, err := r.store.UpdateQrStatus(ctx, qr.ID, models.QrStatusPendiente, models.QrStatusConfirmado, &now, nil)
	if err != nil {
		return "error_interno"
	}
	if !moved {
		// Lost a race; re-read once and classify the winner's state
		qr, err = r.store.GetQr(ctx, item.QrID)
		if err != nil {
			return "error_interno"
		}
		switch qr.Status {
		case models.QrStatusConfirmado, models.QrStatusConfirmadoConIncidente:
			return ""
		default:
			return "estado_conflicto"
		}
	}
	return ""
}

func (r *Reconciler) persist(ctx context.Context, item Item, status, message string) {
	var qrID *string
	if item.QrID != "" {
		qrID = &item.QrID
	}
	now := r.now().UTC()
	event := &models.DeliveryOfflineEvent{
		ID:                uuid.NewString(),
		QrID:              qrID,
		OrderID:           item.OrderID,
		DeviceID:          item.DeviceID,
		EventType:         item.EventType,
		Payload:           []byte(item.Payload),
		OfflineHash:       item.OfflineHash,
		SyncStatus:        status,
		ValidationMessage: message,
	}
	if status == models.OfflineStatusSynced {
		event.SyncedAt = &now
	}
	if err := r.store.UpsertOfflineEvent(ctx, event); err != nil {
		log.Printf("⚠️  Offline event persist failed for hash %s: %v", item.OfflineHash, err)
	}
}
