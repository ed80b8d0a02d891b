package models

import (
	"time"

	"gorm.io/datatypes"
)

// Offline event types
const (
	OfflineEventConfirmacion   = "confirmacion"
	OfflineEventFirma          = "firma"
	OfflineEventSincronizacion = "sincronizacion"
)

// Offline sync statuses. There is no persisted "pending": rows exist only
// once the reconciler has classified them.
const (
	OfflineStatusSynced   = "synced"
	OfflineStatusRejected = "rejected"
)

// DeliveryOfflineEvent is a delivery action recorded by a device without
// connectivity, upserted by its content hash. offline_hash is the
// idempotency key: replays with the same hash never reapply side effects.
type DeliveryOfflineEvent struct {
	ID                string         `gorm:"primaryKey;type:uuid" json:"id"`
	QrID              *string        `gorm:"index" json:"qrId,omitempty"`
	OrderID           string         `gorm:"index;not null" json:"orderId"`
	DeviceID          string         `gorm:"index;not null" json:"deviceId"`
	EventType         string         `gorm:"not null" json:"eventType"`
	Payload           datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	OfflineHash       string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"offlineHash"`
	SyncStatus        string         `gorm:"index;not null" json:"syncStatus"`
	ValidationMessage string         `json:"validationMessage,omitempty"`
	SyncedAt          *time.Time     `json:"syncedAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (DeliveryOfflineEvent) TableName() string {
	return "delivery_offline_events"
}
