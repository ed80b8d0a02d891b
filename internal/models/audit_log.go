package models

import (
	"time"
)

// Audit entity types
const (
	AuditEntityQr           = "qr"
	AuditEntityOtp          = "otp"
	AuditEntitySession      = "session"
	AuditEntityConfirmation = "confirmation"
	AuditEntityIncident     = "incident"
	AuditEntityOffline      = "offline"
	AuditEntityErp          = "erp"
)

// Audit actor types
const (
	AuditActorSystem      = "system"
	AuditActorAdmin       = "admin"
	AuditActorCustomer    = "customer"
	AuditActorTransporter = "transporter"
	AuditActorDevice      = "device"
	AuditActorErp         = "erp"
)

// DeliveryAuditLog is append-only: rows are never updated or deleted.
// RecordHash is reserved for tamper-evidence chaining.
type DeliveryAuditLog struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	EntityType string    `gorm:"index:idx_audit_entity;not null" json:"entityType"`
	EntityID   string    `gorm:"index:idx_audit_entity;not null" json:"entityId"`
	Action     string    `gorm:"index;not null" json:"action"`
	ActorType  string    `gorm:"not null" json:"actorType"`
	ActorID    string    `json:"actorId,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	Metadata   JSONB     `gorm:"type:jsonb" json:"metadata"`
	RecordHash string    `gorm:"type:varchar(64)" json:"recordHash,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name
func (DeliveryAuditLog) TableName() string {
	return "delivery_audit_logs"
}
