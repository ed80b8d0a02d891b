// Package store defines the persistence boundary of the delivery core.
// Handlers are stateless; all coordination happens through these rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mesanova/entregas/internal/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// Store is the injected repository the delivery services run against.
// A GORM implementation backs production; Memory backs tests and the
// demo mode.
type Store interface {
	// QR registry
	CreateQr(ctx context.Context, qr *models.DeliveryQrToken, packages []models.DeliveryPackage) error
	GetQr(ctx context.Context, id string) (*models.DeliveryQrToken, error)
	// UpdateQrStatus performs a conditional transition: the update applies
	// only if the current status equals expected. Returns false when the
	// row was concurrently moved to another state.
	UpdateQrStatus(ctx context.Context, id, expected, next string, confirmedAt, revokedAt *time.Time) (bool, error)
	ExpireStaleQrs(ctx context.Context, now time.Time) (int64, error)

	// Validation sessions
	CreateSession(ctx context.Context, s *models.DeliveryValidationSession) error
	InvalidateUnverifiedSessions(ctx context.Context, qrID string) error
	GetSessionByTokenHash(ctx context.Context, qrID, tokenHash string) (*models.DeliveryValidationSession, error)
	MarkSessionVerified(ctx context.Context, sessionID string) error

	// OTP attempt history (rate-limit window)
	RecordOtpAttempt(ctx context.Context, qrID, kind string, at time.Time) error
	CountOtpAttempts(ctx context.Context, qrID, kind string, since time.Time) (int64, error)

	// Confirmations. ConfirmQr performs the conditional pendiente → next
	// transition and inserts the confirmation row in one transaction, so a
	// confirmado QR always has its row. Returns false when the row was
	// concurrently moved to another state; nothing is written in that case.
	ConfirmQr(ctx context.Context, qrID, expected, next string, confirmedAt time.Time, c *models.DeliveryConfirmation) (bool, error)
	GetConfirmationByQr(ctx context.Context, qrID string) (*models.DeliveryConfirmation, error)

	// Offline events
	GetOfflineEventByHash(ctx context.Context, offlineHash string) (*models.DeliveryOfflineEvent, error)
	UpsertOfflineEvent(ctx context.Context, e *models.DeliveryOfflineEvent) error

	// Audit log (append-only)
	AppendAudit(ctx context.Context, entry *models.DeliveryAuditLog) error

	// Back-office users
	GetUserByEmail(ctx context.Context, email string) (*models.UserAuth, error)
	SaveUser(ctx context.Context, u *models.UserAuth) error
}
