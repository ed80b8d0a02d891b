// Package delivery orchestrates the scan → OTP → confirm/incident
// lifecycle of a delivery QR.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mesanova/entregas/internal/audit"
	"github.com/mesanova/entregas/internal/blob"
	"github.com/mesanova/entregas/internal/config"
	"github.com/mesanova/entregas/internal/erp"
	"github.com/mesanova/entregas/internal/evidence"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/otp"
	"github.com/mesanova/entregas/internal/store"
	"github.com/mesanova/entregas/internal/token"
)

// EventSink receives lifecycle events for live dashboards. Publishing is
// best-effort.
type EventSink interface {
	Publish(event string, data map[string]interface{})
}

// RequestMeta carries caller context into audit entries
type RequestMeta struct {
	ActorType  string
	ActorID    string
	RequestID  string
	IPAddress  string
	DeviceInfo string
}

// Service runs the delivery confirmation state machine. All coordination
// happens through the persisted rows; the service itself is stateless.
type Service struct {
	store  store.Store
	codec  *token.Codec
	hasher *token.Hasher
	audit  *audit.Writer
	orders erp.OrderSnapshotProvider
	sender otp.Sender
	blobs  blob.Store
	cfg    config.DeliveryConfig
	events EventSink
	now    func() time.Time
}

// NewService wires the session & OTP manager
func NewService(s store.Store, codec *token.Codec, hasher *token.Hasher, aw *audit.Writer,
	orders erp.OrderSnapshotProvider, sender otp.Sender, blobs blob.Store, cfg config.DeliveryConfig) *Service {
	return &Service{
		store:  s,
		codec:  codec,
		hasher: hasher,
		audit:  aw,
		orders: orders,
		sender: sender,
		blobs:  blobs,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetEventSink attaches a live event feed
func (s *Service) SetEventSink(sink EventSink) { s.events = sink }

// SetClock overrides the clock, for tests
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) publish(event string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Publish(event, data)
	}
}

// DispatchRequest creates a new delivery QR when a batch leaves the warehouse
type DispatchRequest struct {
	OrderID       string           `json:"orderId"`
	WarehouseID   string           `json:"warehouseId"`
	BatchID       string           `json:"batchId"`
	TransporterID string           `json:"transporterId"`
	TTL           time.Duration    `json:"-"`
	Packages      []PackageRequest `json:"packages"`
}

// PackageRequest is one parcel in a dispatch request
type PackageRequest struct {
	PackageNumber   int            `json:"packageNumber"`
	CustomerNumber  string         `json:"customerNumber"`
	ProviderBarcode string         `json:"providerBarcode"`
	QuantityTotal   int            `json:"quantityTotal"`
	SkuDistribution map[string]int `json:"skuDistribution"`
}

// DispatchResult returns the registry row and the signed token that goes
// into the QR image
type DispatchResult struct {
	Qr    *models.DeliveryQrToken `json:"qr"`
	Token string                  `json:"token"`
}

// Dispatch registers a delivery QR and signs its token. The raw token is
// returned exactly once; only the fingerprint is stored.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest, meta RequestMeta) (*DispatchResult, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", ErrValidation)
	}
	total := len(req.Packages)
	seen := make(map[int]bool, total)
	for _, p := range req.Packages {
		if p.PackageNumber < 1 || p.PackageNumber > total {
			return nil, fmt.Errorf("%w: package number %d out of range 1..%d", ErrValidation, p.PackageNumber, total)
		}
		if seen[p.PackageNumber] {
			return nil, fmt.Errorf("%w: duplicate package number %d", ErrValidation, p.PackageNumber)
		}
		seen[p.PackageNumber] = true
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.QrTTL
	}

	now := s.now().UTC()
	jti := uuid.NewString()
	nonce, err := token.NewNonce()
	if err != nil {
		return nil, err
	}

	tokenString, err := s.codec.Create(token.Payload{
		Jti:         jti,
		OrderID:     req.OrderID,
		WarehouseID: req.WarehouseID,
		BatchID:     req.BatchID,
		Nonce:       nonce,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	})
	if err != nil {
		return nil, err
	}

	qr := &models.DeliveryQrToken{
		ID:               jti,
		OrderID:          req.OrderID,
		WarehouseID:      req.WarehouseID,
		BatchID:          req.BatchID,
		TransporterID:    req.TransporterID,
		Status:           models.QrStatusPendiente,
		TokenFingerprint: token.TokenFingerprint(tokenString),
		IssuedAt:         now,
		ExpiresAt:        now.Add(ttl),
	}

	packages := make([]models.DeliveryPackage, 0, total)
	for _, p := range req.Packages {
		dist := make(models.JSONB, len(p.SkuDistribution))
		for sku, qty := range p.SkuDistribution {
			dist[sku] = qty
		}
		packages = append(packages, models.DeliveryPackage{
			ID:              uuid.NewString(),
			QrID:            jti,
			PackageNumber:   p.PackageNumber,
			TotalPackages:   total,
			CustomerNumber:  p.CustomerNumber,
			ProviderBarcode: p.ProviderBarcode,
			QuantityTotal:   p.QuantityTotal,
			SkuDistribution: dist,
		})
	}

	if err := s.store.CreateQr(ctx, qr, packages); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityQr,
		EntityID:   jti,
		Action:     "qr_dispatched",
		ActorType:  meta.ActorType,
		ActorID:    meta.ActorID,
		RequestID:  meta.RequestID,
		IPAddress:  meta.IPAddress,
		Metadata:   map[string]interface{}{"order_id": req.OrderID, "packages": total},
	})

	return &DispatchResult{Qr: qr, Token: tokenString}, nil
}

// ScanReceipt is returned after a successful scan. It deliberately carries
// only an order hint: the scan is unauthenticated and must not leak
// customer data.
type ScanReceipt struct {
	QrID         string `json:"qrId"`
	OrderHint    string `json:"orderHint"`
	WarehouseID  string `json:"warehouseId"`
	BatchID      string `json:"batchId"`
	PackageCount int    `json:"packageCount"`
	RequiresOtp  bool   `json:"requiresOtp"`
}

// Scan verifies a presented token against the QR registry
func (s *Service) Scan(ctx context.Context, tokenString string, meta RequestMeta) (*ScanReceipt, error) {
	payload, err := s.codec.Verify(tokenString)
	if errors.Is(err, token.ErrTokenExpired) && payload != nil {
		// Authentic but stale: move the registry row to expirado so the
		// client gets the expiry reason instead of a generic rejection
		return nil, s.scanExpired(ctx, tokenString, payload, meta)
	}
	if err != nil {
		log.Printf("🔒 Scan rejected: %v", err)
		return nil, token.ErrInvalidToken
	}

	qr, err := s.store.GetQr(ctx, payload.Jti)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("🔒 Scan rejected: jti %s not in registry", payload.Jti)
		return nil, token.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if token.TokenFingerprint(tokenString) != qr.TokenFingerprint {
		log.Printf("🔒 Scan rejected: fingerprint mismatch for qr %s", qr.ID)
		return nil, token.ErrInvalidToken
	}

	if err := s.checkQrState(ctx, qr, meta); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityQr,
		EntityID:   qr.ID,
		Action:     "qr_scanned",
		ActorType:  actorOr(meta, models.AuditActorTransporter),
		ActorID:    meta.ActorID,
		RequestID:  meta.RequestID,
		IPAddress:  meta.IPAddress,
		DeviceInfo: meta.DeviceInfo,
	})
	s.publish("qr_scanned", map[string]interface{}{"qr_id": qr.ID, "order_id": qr.OrderID})

	return &ScanReceipt{
		QrID:         qr.ID,
		OrderHint:    maskOrderID(qr.OrderID),
		WarehouseID:  qr.WarehouseID,
		BatchID:      qr.BatchID,
		PackageCount: len(qr.Packages),
		RequiresOtp:  true,
	}, nil
}

// scanExpired handles a signature-valid token whose exp has passed
func (s *Service) scanExpired(ctx context.Context, tokenString string, payload *token.Payload, meta RequestMeta) error {
	qr, err := s.store.GetQr(ctx, payload.Jti)
	if err != nil || token.TokenFingerprint(tokenString) != qr.TokenFingerprint {
		log.Printf("🔒 Expired scan rejected: qr %s not resolvable", payload.Jti)
		return token.ErrInvalidToken
	}
	if err := s.checkQrState(ctx, qr, meta); err != nil {
		return err
	}
	return ErrQrExpired
}

// checkQrState enforces expiry and terminal states. Lazily transitions a
// stale pendiente QR to expirado.
func (s *Service) checkQrState(ctx context.Context, qr *models.DeliveryQrToken, meta RequestMeta) error {
	switch qr.Status {
	case models.QrStatusConfirmado, models.QrStatusConfirmadoConIncidente:
		return ErrAlreadyConfirmed
	case models.QrStatusRechazado:
		return ErrRejected
	case models.QrStatusExpirado:
		return ErrQrExpired
	}

	if !s.now().Before(qr.ExpiresAt) {
		moved, err := s.store.UpdateQrStatus(ctx, qr.ID, models.QrStatusPendiente, models.QrStatusExpirado, nil, nil)
		if err != nil {
			return err
		}
		if moved {
			s.audit.Record(ctx, audit.Entry{
				EntityType: models.AuditEntityQr,
				EntityID:   qr.ID,
				Action:     "qr_expired",
				RequestID:  meta.RequestID,
			})
		}
		return ErrQrExpired
	}
	return nil
}

// IssueReceipt is returned after an OTP has been issued
type IssueReceipt struct {
	SessionToken string    `json:"sessionToken"`
	Channel      string    `json:"channel"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// IssueOtp creates a validation session and sends the code. Creating a new
// session invalidates prior unverified ones: at most one active session
// per QR.
func (s *Service) IssueOtp(ctx context.Context, qrID, channel, destination string, meta RequestMeta) (*IssueReceipt, error) {
	qr, err := s.getLiveQr(ctx, qrID, meta)
	if err != nil {
		return nil, err
	}

	if channel == "" {
		channel = otp.ChannelSms
	}
	if err := otp.ValidateChannel(channel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.allowOtpAttempt(ctx, qrID, models.OtpAttemptIssue); err != nil {
		return nil, err
	}

	if destination == "" {
		snapshot, err := s.orders.GetOrderSnapshot(ctx, qr.OrderID)
		if err != nil {
			return nil, fmt.Errorf("order snapshot lookup failed: %w", err)
		}
		if snapshot == nil || snapshot.CustomerPhone == "" {
			return nil, fmt.Errorf("%w: no destination available for order %s", ErrValidation, qr.OrderID)
		}
		destination = snapshot.CustomerPhone
	}

	code, err := token.NewOtpCode(s.cfg.OtpLength)
	if err != nil {
		return nil, err
	}
	salt, err := s.hasher.NewOtpSalt()
	if err != nil {
		return nil, err
	}
	rawSession, err := token.NewSessionToken()
	if err != nil {
		return nil, err
	}

	if err := s.store.InvalidateUnverifiedSessions(ctx, qrID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.DeliveryValidationSession{
		ID:               uuid.NewString(),
		QrID:             qrID,
		SessionTokenHash: s.hasher.HashSessionToken(rawSession),
		OtpHash:          s.hasher.HashOtpCode(code, salt),
		OtpSalt:          salt,
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, otp.Message{
		Channel:     channel,
		Destination: destination,
		Code:        code,
		OrderID:     qr.OrderID,
	}); err != nil {
		return nil, fmt.Errorf("otp send failed: %w", err)
	}

	if err := s.store.RecordOtpAttempt(ctx, qrID, models.OtpAttemptIssue, s.now().UTC()); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityOtp,
		EntityID:   session.ID,
		Action:     "otp_issued",
		ActorType:  actorOr(meta, models.AuditActorTransporter),
		ActorID:    meta.ActorID,
		RequestID:  meta.RequestID,
		IPAddress:  meta.IPAddress,
		Metadata:   map[string]interface{}{"qr_id": qrID, "channel": channel},
	})

	return &IssueReceipt{
		SessionToken: rawSession,
		Channel:      channel,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// VerifyOtp checks the submitted code against the session. Failures never
// reveal which part of the credential was wrong.
func (s *Service) VerifyOtp(ctx context.Context, qrID, sessionToken, code string, meta RequestMeta) error {
	qr, err := s.getLiveQr(ctx, qrID, meta)
	if err != nil {
		return err
	}

	if err := s.allowOtpAttempt(ctx, qrID, models.OtpAttemptVerify); err != nil {
		return err
	}
	if err := s.store.RecordOtpAttempt(ctx, qrID, models.OtpAttemptVerify, s.now().UTC()); err != nil {
		return err
	}

	session, err := s.getSession(ctx, qr.ID, sessionToken)
	if err != nil {
		return err
	}

	if !s.hasher.VerifyOtpCode(code, session.OtpSalt, session.OtpHash) {
		s.audit.Record(ctx, audit.Entry{
			EntityType: models.AuditEntityOtp,
			EntityID:   session.ID,
			Action:     "otp_failed",
			RequestID:  meta.RequestID,
			IPAddress:  meta.IPAddress,
			Metadata:   map[string]interface{}{"qr_id": qrID},
		})
		return ErrOtpInvalid
	}

	if err := s.store.MarkSessionVerified(ctx, session.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityOtp,
		EntityID:   session.ID,
		Action:     "otp_verified",
		ActorType:  actorOr(meta, models.AuditActorCustomer),
		RequestID:  meta.RequestID,
		IPAddress:  meta.IPAddress,
		Metadata:   map[string]interface{}{"qr_id": qrID},
	})
	return nil
}

// ConfirmRequest finalizes a delivery
type ConfirmRequest struct {
	QrID         string `json:"qrId"`
	SessionToken string `json:"sessionToken"`
	Incident     bool   `json:"incident"`
	Notes        string `json:"notes"`
	SignatureRef string `json:"signatureRef"`
}

// Confirm records the delivery (or incident), generates the evidence PDF
// and writes the immutable confirmation row. The status field is the
// single source of truth: a concurrent confirmer loses the conditional
// update and gets a conflict instead of a second confirmation.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest, meta RequestMeta) (*models.DeliveryConfirmation, error) {
	qr, err := s.getLiveQr(ctx, req.QrID, meta)
	if err != nil {
		return nil, err
	}

	session, err := s.getSession(ctx, qr.ID, req.SessionToken)
	if err != nil {
		return nil, err
	}
	if !session.OtpVerified {
		return nil, ErrSessionInvalid
	}

	if req.Incident && req.Notes == "" {
		return nil, fmt.Errorf("%w: incident notes are required", ErrValidation)
	}

	snapshot, err := s.orders.GetOrderSnapshot(ctx, qr.OrderID)
	if err != nil {
		log.Printf("⚠️  Order snapshot unavailable for %s: %v", qr.OrderID, err)
		snapshot = nil
	}

	now := s.now().UTC()
	pdf := evidence.BuildConfirmationDocument(evidence.ConfirmationDetails{
		OrderID:       qr.OrderID,
		QrID:          qr.ID,
		WarehouseID:   qr.WarehouseID,
		BatchID:       qr.BatchID,
		TransporterID: qr.TransporterID,
		ConfirmedAt:   now,
		HasIncident:   req.Incident,
		IncidentNotes: req.Notes,
		SignatureRef:  req.SignatureRef,
		Snapshot:      snapshot,
	})

	// The path is keyed by the confirmation id, not the QR id: concurrent
	// confirmers for the same QR never share a blob path, so a loser
	// cannot overwrite the winner's document. A losing write leaves an
	// orphan blob that nothing references.
	confirmation := &models.DeliveryConfirmation{
		ID:            uuid.NewString(),
		OrderID:       qr.OrderID,
		QrID:          qr.ID,
		HasIncident:   req.Incident,
		IncidentNotes: req.Notes,
		SignatureRef:  req.SignatureRef,
		ConfirmedAt:   now,
	}
	confirmation.EvidencePath = fmt.Sprintf("confirmations/%s.pdf", confirmation.ID)
	if _, err := s.blobs.Put(confirmation.EvidencePath, pdf); err != nil {
		return nil, fmt.Errorf("evidence storage failed: %w", err)
	}

	target := models.QrStatusConfirmado
	action := "confirmation_recorded"
	if req.Incident {
		target = models.QrStatusConfirmadoConIncidente
		action = "incident_recorded"
	}

	// Status transition and confirmation row commit together: a confirmado
	// QR without its row cannot exist, and a failed insert leaves the QR
	// pendiente so the caller can retry.
	moved, err := s.store.ConfirmQr(ctx, qr.ID, models.QrStatusPendiente, target, now, confirmation)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, s.conflictError(ctx, qr.ID)
	}

	entityType := models.AuditEntityConfirmation
	if req.Incident {
		entityType = models.AuditEntityIncident
	}
	s.audit.Record(ctx, audit.Entry{
		EntityType: entityType,
		EntityID:   confirmation.ID,
		Action:     action,
		ActorType:  actorOr(meta, models.AuditActorCustomer),
		ActorID:    meta.ActorID,
		RequestID:  meta.RequestID,
		IPAddress:  meta.IPAddress,
		DeviceInfo: meta.DeviceInfo,
		Metadata:   map[string]interface{}{"qr_id": qr.ID, "order_id": qr.OrderID, "incident": req.Incident},
	})

	if err := s.orders.IngestSyncEvent(ctx, erp.SyncEvent{
		OrderID:   qr.OrderID,
		QrID:      qr.ID,
		EventType: target,
	}); err != nil {
		log.Printf("⚠️  ERP sync event failed for order %s: %v", qr.OrderID, err)
	}

	s.publish(action, map[string]interface{}{"qr_id": qr.ID, "order_id": qr.OrderID, "incident": req.Incident})

	return confirmation, nil
}

// Reject terminally marks a QR as rechazado
func (s *Service) Reject(ctx context.Context, qrID, reason string, meta RequestMeta) error {
	if _, err := s.store.GetQr(ctx, qrID); errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	now := s.now().UTC()
	moved, err := s.store.UpdateQrStatus(ctx, qrID, models.QrStatusPendiente, models.QrStatusRechazado, nil, &now)
	if err != nil {
		return err
	}
	if !moved {
		return s.conflictError(ctx, qrID)
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: models.AuditEntityQr,
		EntityID:   qrID,
		Action:     "qr_rejected",
		ActorType:  actorOr(meta, models.AuditActorAdmin),
		ActorID:    meta.ActorID,
		RequestID:  meta.RequestID,
		Metadata:   map[string]interface{}{"reason": reason},
	})
	s.publish("qr_rejected", map[string]interface{}{"qr_id": qrID, "reason": reason})
	return nil
}

// Evidence returns the stored evidence PDF. Admin callers pass isAdmin;
// customers authorize with their verified session token.
func (s *Service) Evidence(ctx context.Context, qrID, sessionToken string, isAdmin bool) ([]byte, error) {
	if !isAdmin {
		session, err := s.getSession(ctx, qrID, sessionToken)
		if err != nil {
			return nil, err
		}
		if !session.OtpVerified {
			return nil, ErrSessionInvalid
		}
	}

	confirmation, err := s.store.GetConfirmationByQr(ctx, qrID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(confirmation.EvidencePath)
}

// ExpireStale marks overdue pendiente QRs expirado. Correctness does not
// depend on this: expiry is checked lazily on every call. The sweep only
// keeps reporting tidy.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStaleQrs(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.audit.Record(ctx, audit.Entry{
			EntityType: models.AuditEntityQr,
			EntityID:   "janitor",
			Action:     "qr_expired",
			Metadata:   map[string]interface{}{"count": n},
		})
	}
	return n, nil
}

// getLiveQr loads a QR and enforces expiry and terminal-state rules
func (s *Service) getLiveQr(ctx context.Context, qrID string, meta RequestMeta) (*models.DeliveryQrToken, error) {
	qr, err := s.store.GetQr(ctx, qrID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkQrState(ctx, qr, meta); err != nil {
		return nil, err
	}
	return qr, nil
}

// getSession resolves a presented session token, enforcing liveness.
// Session expiry is re-checked here on every OTP-gated call.
func (s *Service) getSession(ctx context.Context, qrID, rawToken string) (*models.DeliveryValidationSession, error) {
	if rawToken == "" {
		return nil, ErrSessionInvalid
	}
	session, err := s.store.GetSessionByTokenHash(ctx, qrID, s.hasher.HashSessionToken(rawToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	if session.Invalidated {
		return nil, ErrSessionInvalid
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// allowOtpAttempt enforces the rolling window against persisted attempts
func (s *Service) allowOtpAttempt(ctx context.Context, qrID, kind string) error {
	since := s.now().Add(-s.cfg.OtpWindow)
	count, err := s.store.CountOtpAttempts(ctx, qrID, kind, since)
	if err != nil {
		return err
	}
	if count >= int64(s.cfg.OtpMaxRequests) {
		return ErrRateLimited
	}
	return nil
}

// conflictError re-reads the row to report the precise terminal state the
// caller lost against
func (s *Service) conflictError(ctx context.Context, qrID string) error {
	qr, err := s.store.GetQr(ctx, qrID)
	if err != nil {
		return ErrConflict
	}
	switch qr.Status {
	case models.QrStatusConfirmado, models.QrStatusConfirmadoConIncidente:
		return ErrAlreadyConfirmed
	case models.QrStatusRechazado:
		return ErrRejected
	case models.QrStatusExpirado:
		return ErrQrExpired
	}
	return ErrConflict
}

func actorOr(meta RequestMeta, fallback string) string {
	if meta.ActorType != "" {
		return meta.ActorType
	}
	return fallback
}

// maskOrderID keeps only a recognizable tail of the order id
func maskOrderID(orderID string) string {
	if len(orderID) <= 4 {
		return orderID
	}
	return "***" + orderID[len(orderID)-4:]
}
