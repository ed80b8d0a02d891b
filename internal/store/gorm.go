package store

import (
	"context"
	"errors"
	"time"

	"github.com/mesanova/entregas/internal/database"
	"github.com/mesanova/entregas/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is the PostgreSQL-backed Store
type Gorm struct {
	db *database.DB
}

// NewGorm creates a Store over the shared database connection
func NewGorm(db *database.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) CreateQr(ctx context.Context, qr *models.DeliveryQrToken, packages []models.DeliveryPackage) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(qr).Error; err != nil {
			return err
		}
		if len(packages) > 0 {
			if err := tx.Create(&packages).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gorm) GetQr(ctx context.Context, id string) (*models.DeliveryQrToken, error) {
	var qr models.DeliveryQrToken
	err := g.db.WithContext(ctx).Preload("Packages").Where("id = ?", id).First(&qr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &qr, nil
}

func (g *Gorm) UpdateQrStatus(ctx context.Context, id, expected, next string, confirmedAt, revokedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": next}
	if confirmedAt != nil {
		updates["confirmed_at"] = confirmedAt
	}
	if revokedAt != nil {
		updates["revoked_at"] = revokedAt
	}

	res := g.db.WithContext(ctx).
		Model(&models.DeliveryQrToken{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (g *Gorm) ExpireStaleQrs(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Model(&models.DeliveryQrToken{}).
		Where("status = ? AND expires_at <= ?", models.QrStatusPendiente, now).
		Update("status", models.QrStatusExpirado)
	return res.RowsAffected, res.Error
}

func (g *Gorm) CreateSession(ctx context.Context, s *models.DeliveryValidationSession) error {
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *Gorm) InvalidateUnverifiedSessions(ctx context.Context, qrID string) error {
	return g.db.WithContext(ctx).
		Model(&models.DeliveryValidationSession{}).
		Where("qr_id = ? AND otp_verified = ? AND invalidated = ?", qrID, false, false).
		Update("invalidated", true).Error
}

func (g *Gorm) GetSessionByTokenHash(ctx context.Context, qrID, tokenHash string) (*models.DeliveryValidationSession, error) {
	var s models.DeliveryValidationSession
	err := g.db.WithContext(ctx).
		Where("qr_id = ? AND session_token_hash = ?", qrID, tokenHash).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *Gorm) MarkSessionVerified(ctx context.Context, sessionID string) error {
	return g.db.WithContext(ctx).
		Model(&models.DeliveryValidationSession{}).
		Where("id = ?", sessionID).
		Update("otp_verified", true).Error
}

func (g *Gorm) RecordOtpAttempt(ctx context.Context, qrID, kind string, at time.Time) error {
	return g.db.WithContext(ctx).Create(&models.DeliveryOtpAttempt{QrID: qrID, Kind: kind, CreatedAt: at}).Error
}

func (g *Gorm) CountOtpAttempts(ctx context.Context, qrID, kind string, since time.Time) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.DeliveryOtpAttempt{}).
		Where("qr_id = ? AND kind = ? AND created_at >= ?", qrID, kind, since).
		Count(&count).Error
	return count, err
}

func (g *Gorm) ConfirmQr(ctx context.Context, qrID, expected, next string, confirmedAt time.Time, c *models.DeliveryConfirmation) (bool, error) {
	var moved bool
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DeliveryQrToken{}).
			Where("id = ? AND status = ?", qrID, expected).
			Updates(map[string]interface{}{"status": next, "confirmed_at": confirmedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true
		return tx.Create(c).Error
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

func (g *Gorm) GetConfirmationByQr(ctx context.Context, qrID string) (*models.DeliveryConfirmation, error) {
	var c models.DeliveryConfirmation
	err := g.db.WithContext(ctx).Where("qr_id = ?", qrID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *Gorm) GetOfflineEventByHash(ctx context.Context, offlineHash string) (*models.DeliveryOfflineEvent, error) {
	var e models.DeliveryOfflineEvent
	err := g.db.WithContext(ctx).Where("offline_hash = ?", offlineHash).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (g *Gorm) UpsertOfflineEvent(ctx context.Context, e *models.DeliveryOfflineEvent) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "offline_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"sync_status", "validation_message", "synced_at", "updated_at",
			}),
		}).
		Create(e).Error
}

func (g *Gorm) AppendAudit(ctx context.Context, entry *models.DeliveryAuditLog) error {
	return g.db.WithContext(ctx).Create(entry).Error
}

func (g *Gorm) GetUserByEmail(ctx context.Context, email string) (*models.UserAuth, error) {
	var u models.UserAuth
	err := g.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) SaveUser(ctx context.Context, u *models.UserAuth) error {
	return g.db.WithContext(ctx).Save(u).Error
}
