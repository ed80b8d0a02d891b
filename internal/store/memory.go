package store

import (
	"context"
	"sync"
	"time"

	"github.com/mesanova/entregas/internal/models"
)

// Memory is an in-process Store used by tests and the demo seeder.
// It mirrors the conditional-update semantics of the SQL implementation.
type Memory struct {
	mu            sync.Mutex
	qrs           map[string]*models.DeliveryQrToken
	packages      map[string][]models.DeliveryPackage
	sessions      map[string]*models.DeliveryValidationSession
	attempts      []models.DeliveryOtpAttempt
	confirmations map[string]*models.DeliveryConfirmation
	offline       map[string]*models.DeliveryOfflineEvent
	audit         []models.DeliveryAuditLog
	users         map[string]*models.UserAuth

	// FailAudit makes AppendAudit fail, for exercising the swallow path
	FailAudit bool
	// FailConfirmations makes ConfirmQr fail without moving the QR,
	// mirroring a rolled-back transaction
	FailConfirmations bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		qrs:           make(map[string]*models.DeliveryQrToken),
		packages:      make(map[string][]models.DeliveryPackage),
		sessions:      make(map[string]*models.DeliveryValidationSession),
		confirmations: make(map[string]*models.DeliveryConfirmation),
		offline:       make(map[string]*models.DeliveryOfflineEvent),
		users:         make(map[string]*models.UserAuth),
	}
}

func (m *Memory) CreateQr(ctx context.Context, qr *models.DeliveryQrToken, packages []models.DeliveryPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *qr
	m.qrs[qr.ID] = &cp
	m.packages[qr.ID] = append([]models.DeliveryPackage(nil), packages...)
	return nil
}

func (m *Memory) GetQr(ctx context.Context, id string) (*models.DeliveryQrToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qr, ok := m.qrs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *qr
	cp.Packages = append([]models.DeliveryPackage(nil), m.packages[id]...)
	return &cp, nil
}

func (m *Memory) UpdateQrStatus(ctx context.Context, id, expected, next string, confirmedAt, revokedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qr, ok := m.qrs[id]
	if !ok || qr.Status != expected {
		return false, nil
	}
	qr.Status = next
	if confirmedAt != nil {
		qr.ConfirmedAt = confirmedAt
	}
	if revokedAt != nil {
		qr.RevokedAt = revokedAt
	}
	return true, nil
}

func (m *Memory) ExpireStaleQrs(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, qr := range m.qrs {
		if qr.Status == models.QrStatusPendiente && !qr.ExpiresAt.After(now) {
			qr.Status = models.QrStatusExpirado
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateSession(ctx context.Context, s *models.DeliveryValidationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) InvalidateUnverifiedSessions(ctx context.Context, qrID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.QrID == qrID && !s.OtpVerified {
			s.Invalidated = true
		}
	}
	return nil
}

func (m *Memory) GetSessionByTokenHash(ctx context.Context, qrID, tokenHash string) (*models.DeliveryValidationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.QrID == qrID && s.SessionTokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) MarkSessionVerified(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.OtpVerified = true
	return nil
}

func (m *Memory) RecordOtpAttempt(ctx context.Context, qrID, kind string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, models.DeliveryOtpAttempt{
		QrID:      qrID,
		Kind:      kind,
		CreatedAt: at,
	})
	return nil
}

func (m *Memory) CountOtpAttempts(ctx context.Context, qrID, kind string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, a := range m.attempts {
		if a.QrID == qrID && a.Kind == kind && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ConfirmQr(ctx context.Context, qrID, expected, next string, confirmedAt time.Time, c *models.DeliveryConfirmation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qr, ok := m.qrs[qrID]
	if !ok || qr.Status != expected {
		return false, nil
	}
	if m.FailConfirmations {
		return false, context.DeadlineExceeded
	}
	at := confirmedAt
	qr.Status = next
	qr.ConfirmedAt = &at
	cp := *c
	m.confirmations[c.QrID] = &cp
	return true, nil
}

func (m *Memory) GetConfirmationByQr(ctx context.Context, qrID string) (*models.DeliveryConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[qrID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetOfflineEventByHash(ctx context.Context, offlineHash string) (*models.DeliveryOfflineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.offline[offlineHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) UpsertOfflineEvent(ctx context.Context, e *models.DeliveryOfflineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.offline[e.OfflineHash] = &cp
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, entry *models.DeliveryAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAudit {
		return context.DeadlineExceeded
	}
	m.audit = append(m.audit, *entry)
	return nil
}

// AuditEntries returns a copy of recorded audit rows, for assertions
func (m *Memory) AuditEntries() []models.DeliveryAuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DeliveryAuditLog(nil), m.audit...)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*models.UserAuth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) SaveUser(ctx context.Context, u *models.UserAuth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.Email] = &cp
	return nil
}
