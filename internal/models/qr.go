package models

import (
	"time"
)

// QR status constants. The names are the business vocabulary and travel
// as-is through the API and the database.
const (
	QrStatusPendiente              = "pendiente"
	QrStatusConfirmado             = "confirmado"
	QrStatusConfirmadoConIncidente = "confirmado_con_incidente"
	QrStatusRechazado              = "rechazado"
	QrStatusExpirado               = "expirado"
)

// IsTerminalQrStatus reports whether no further transition is allowed
func IsTerminalQrStatus(status string) bool {
	switch status {
	case QrStatusConfirmado, QrStatusConfirmadoConIncidente, QrStatusRechazado, QrStatusExpirado:
		return true
	}
	return false
}

// DeliveryQrToken represents one physical delivery event scan target.
// The ID is the token jti; the raw signed token is never stored, only its
// fingerprint, so a leaked database cannot reproduce a scannable QR.
type DeliveryQrToken struct {
	ID               string     `gorm:"primaryKey;type:uuid" json:"id"`
	OrderID          string     `gorm:"index;not null" json:"orderId"`
	WarehouseID      string     `gorm:"index" json:"warehouseId"`
	BatchID          string     `gorm:"index" json:"batchId"`
	TransporterID    string     `gorm:"index" json:"transporterId"`
	Status           string     `gorm:"index;default:'pendiente'" json:"status"`
	TokenFingerprint string     `gorm:"type:varchar(64);not null" json:"-"`
	IssuedAt         time.Time  `gorm:"not null" json:"issuedAt"`
	ExpiresAt        time.Time  `gorm:"not null;index" json:"expiresAt"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	Packages []DeliveryPackage `gorm:"foreignKey:QrID" json:"packages,omitempty"`
}

// TableName specifies the table name
func (DeliveryQrToken) TableName() string {
	return "delivery_qr_tokens"
}

// DeliveryPackage is one physical parcel covered by a QR.
// package_number values are unique within a QR and never exceed
// total_packages; dispatch validates this before writing.
type DeliveryPackage struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	QrID            string    `gorm:"index:idx_qr_package,unique;not null" json:"qrId"`
	PackageNumber   int       `gorm:"index:idx_qr_package,unique;not null" json:"packageNumber"`
	TotalPackages   int       `gorm:"not null" json:"totalPackages"`
	CustomerNumber  string    `json:"customerNumber"`
	ProviderBarcode string    `json:"providerBarcode"`
	QuantityTotal   int       `json:"quantityTotal"`
	SkuDistribution JSONB     `gorm:"type:jsonb" json:"skuDistribution"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (DeliveryPackage) TableName() string {
	return "delivery_packages"
}
