package models

import (
	"time"
)

// DeliveryConfirmation is the legal record of a completed delivery.
// Rows are immutable once written; corrections are modeled as new
// incident records, never in-place edits.
type DeliveryConfirmation struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	OrderID       string    `gorm:"index;not null" json:"orderId"`
	QrID          string    `gorm:"uniqueIndex;not null" json:"qrId"`
	EvidencePath  string    `gorm:"not null" json:"evidencePath"`
	HasIncident   bool      `gorm:"default:false" json:"hasIncident"`
	IncidentNotes string    `gorm:"type:text" json:"incidentNotes,omitempty"`
	SignatureRef  string    `json:"signatureRef,omitempty"`
	ConfirmedAt   time.Time `gorm:"not null" json:"confirmedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (DeliveryConfirmation) TableName() string {
	return "delivery_confirmations"
}
