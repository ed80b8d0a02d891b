package delivery

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mesanova/entregas/internal/audit"
	"github.com/mesanova/entregas/internal/blob"
	"github.com/mesanova/entregas/internal/config"
	"github.com/mesanova/entregas/internal/erp"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/otp"
	"github.com/mesanova/entregas/internal/store"
	"github.com/mesanova/entregas/internal/token"
)

// recorderSender captures sent codes instead of delivering them
type recorderSender struct {
	mu    sync.Mutex
	codes []string
	fail  bool
}

func (r *recorderSender) Send(ctx context.Context, msg otp.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("gateway down")
	}
	r.codes = append(r.codes, msg.Code)
	return nil
}

func (r *recorderSender) lastCode(t *testing.T) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		t.Fatal("No OTP was sent")
	}
	return r.codes[len(r.codes)-1]
}

type fixture struct {
	svc    *Service
	store  *store.Memory
	sender *recorderSender
	orders *erp.StaticProvider
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	sender := &recorderSender{}
	orders := erp.NewStaticProvider()
	orders.AddOrder("SO-9001", erp.OrderSnapshot{
		OrderNumber:     "SO-9001",
		CustomerName:    "Cliente Prueba",
		CustomerPhone:   "+573001112233",
		ShippingAddress: "Calle 1 # 2-3, Bogota",
		Items:           []erp.OrderItem{{Sku: "SKU-1", Name: "Caja de vino", QuantityTotal: 2}},
	})

	cfg := config.DeliveryConfig{
		OtpLength:      6,
		OtpMaxRequests: 5,
		OtpWindow:      15 * time.Minute,
		SessionTTL:     20 * time.Minute,
		QrTTL:          time.Hour,
	}

	f := &fixture{
		store:  mem,
		sender: sender,
		orders: orders,
		clock:  time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC),
	}

	secret := "test-secret-key"
	codec := token.NewCodecAt(secret, func() time.Time { return f.clock })
	svc := NewService(mem, codec, token.NewHasher(secret), audit.NewWriter(mem),
		orders, sender, blob.NewMemoryStore(), cfg)
	svc.SetClock(func() time.Time { return f.clock })

	f.svc = svc
	return f
}

func (f *fixture) dispatch(t *testing.T) *DispatchResult {
	t.Helper()
	res, err := f.svc.Dispatch(context.Background(), DispatchRequest{
		OrderID:       "SO-9001",
		WarehouseID:   "BOG-01",
		BatchID:       "LOTE-7",
		TransporterID: "trans-3",
		Packages: []PackageRequest{
			{PackageNumber: 1, QuantityTotal: 2, SkuDistribution: map[string]int{"SKU-1": 2}},
		},
	}, RequestMeta{ActorType: models.AuditActorAdmin})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	return res
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatch(t)
	if res.Qr.Status != models.QrStatusPendiente {
		t.Fatalf("New QR should be pendiente, got %s", res.Qr.Status)
	}

	receipt, err := f.svc.Scan(ctx, res.Token, RequestMeta{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !receipt.RequiresOtp {
		t.Error("Scan receipt should require OTP")
	}
	if receipt.OrderHint == "SO-9001" {
		t.Error("Scan receipt should not expose the full order id")
	}

	issue, err := f.svc.IssueOtp(ctx, receipt.QrID, otp.ChannelSms, "", RequestMeta{})
	if err != nil {
		t.Fatalf("IssueOtp failed: %v", err)
	}

	if err := f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, f.sender.lastCode(t), RequestMeta{}); err != nil {
		t.Fatalf("VerifyOtp failed: %v", err)
	}

	confirmation, err := f.svc.Confirm(ctx, ConfirmRequest{
		QrID:         receipt.QrID,
		SessionToken: issue.SessionToken,
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmation.HasIncident {
		t.Error("Confirmation should not carry an incident")
	}

	qr, _ := f.store.GetQr(ctx, receipt.QrID)
	if qr.Status != models.QrStatusConfirmado {
		t.Errorf("QR should be confirmado, got %s", qr.Status)
	}

	pdf, err := f.svc.Evidence(ctx, receipt.QrID, issue.SessionToken, false)
	if err != nil {
		t.Fatalf("Evidence failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-1.4")) {
		t.Error("Evidence should be a PDF 1.4 document")
	}
}

func TestConfirmWithIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})
	issue, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	if err := f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, f.sender.lastCode(t), RequestMeta{}); err != nil {
		t.Fatalf("VerifyOtp failed: %v", err)
	}

	// Incident without notes is a validation error
	if _, err := f.svc.Confirm(ctx, ConfirmRequest{
		QrID: receipt.QrID, SessionToken: issue.SessionToken, Incident: true,
	}, RequestMeta{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	confirmation, err := f.svc.Confirm(ctx, ConfirmRequest{
		QrID:         receipt.QrID,
		SessionToken: issue.SessionToken,
		Incident:     true,
		Notes:        "caja humeda",
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("Confirm with incident failed: %v", err)
	}
	if !confirmation.HasIncident || confirmation.IncidentNotes != "caja humeda" {
		t.Errorf("Incident not recorded: %+v", confirmation)
	}

	qr, _ := f.store.GetQr(ctx, receipt.QrID)
	if qr.Status != models.QrStatusConfirmadoConIncidente {
		t.Errorf("QR should be confirmado_con_incidente, got %s", qr.Status)
	}
}

func TestDoubleConfirmConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})
	issue, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, f.sender.lastCode(t), RequestMeta{})

	if _, err := f.svc.Confirm(ctx, ConfirmRequest{QrID: receipt.QrID, SessionToken: issue.SessionToken}, RequestMeta{}); err != nil {
		t.Fatalf("First confirm failed: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, ConfirmRequest{QrID: receipt.QrID, SessionToken: issue.SessionToken}, RequestMeta{}); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("Second confirm should conflict, got %v", err)
	}

	// The losing confirmer must not leave a second confirmation record
	if _, err := f.store.GetConfirmationByQr(ctx, receipt.QrID); err != nil {
		t.Errorf("Confirmation should exist exactly once: %v", err)
	}
}

// gateStore interposes on ConfirmQr so a test can run a second confirmer
// in the window between the evidence write and the status transition
type gateStore struct {
	*store.Memory
	beforeConfirm func()
}

func (g *gateStore) ConfirmQr(ctx context.Context, qrID, expected, next string, confirmedAt time.Time, c *models.DeliveryConfirmation) (bool, error) {
	if g.beforeConfirm != nil {
		hook := g.beforeConfirm
		g.beforeConfirm = nil
		hook()
	}
	return g.Memory.ConfirmQr(ctx, qrID, expected, next, confirmedAt, c)
}

func TestConcurrentConfirmKeepsWinnerEvidence(t *testing.T) {
	mem := store.NewMemory()
	gated := &gateStore{Memory: mem}
	sender := &recorderSender{}
	orders := erp.NewStaticProvider()
	orders.AddOrder("SO-9001", erp.OrderSnapshot{
		OrderNumber:   "SO-9001",
		CustomerPhone: "+573001112233",
	})
	blobs := blob.NewMemoryStore()
	clock := time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC)
	secret := "test-secret-key"
	cfg := config.DeliveryConfig{
		OtpLength:      6,
		OtpMaxRequests: 5,
		OtpWindow:      15 * time.Minute,
		SessionTTL:     20 * time.Minute,
		QrTTL:          time.Hour,
	}
	svc := NewService(gated, token.NewCodecAt(secret, func() time.Time { return clock }),
		token.NewHasher(secret), audit.NewWriter(mem), orders, sender, blobs, cfg)
	svc.SetClock(func() time.Time { return clock })

	ctx := context.Background()
	res, err := svc.Dispatch(ctx, DispatchRequest{
		OrderID:  "SO-9001",
		Packages: []PackageRequest{{PackageNumber: 1, QuantityTotal: 1}},
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	receipt, err := svc.Scan(ctx, res.Token, RequestMeta{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// Two verified sessions can coexist: issuing a new OTP invalidates
	// only unverified sessions
	first, _ := svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	if err := svc.VerifyOtp(ctx, receipt.QrID, first.SessionToken, sender.lastCode(t), RequestMeta{}); err != nil {
		t.Fatalf("First VerifyOtp failed: %v", err)
	}
	second, _ := svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	if err := svc.VerifyOtp(ctx, receipt.QrID, second.SessionToken, sender.lastCode(t), RequestMeta{}); err != nil {
		t.Fatalf("Second VerifyOtp failed: %v", err)
	}

	// The incident confirmer completes in full after the plain confirmer
	// has already stored its evidence document
	var winner *models.DeliveryConfirmation
	var winnerErr error
	gated.beforeConfirm = func() {
		winner, winnerErr = svc.Confirm(ctx, ConfirmRequest{
			QrID:         receipt.QrID,
			SessionToken: second.SessionToken,
			Incident:     true,
			Notes:        "caja humeda",
		}, RequestMeta{})
	}

	if _, err := svc.Confirm(ctx, ConfirmRequest{
		QrID:         receipt.QrID,
		SessionToken: first.SessionToken,
	}, RequestMeta{}); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("Overtaken confirmer should conflict, got %v", err)
	}
	if winnerErr != nil {
		t.Fatalf("Winning confirm failed: %v", winnerErr)
	}

	// The winning row and its evidence document must agree: the losing
	// confirmer's plain document cannot replace the incident one
	if !winner.HasIncident {
		t.Fatal("Winning confirmation should carry the incident")
	}
	stored, err := blobs.Get(winner.EvidencePath)
	if err != nil {
		t.Fatalf("Winner's evidence missing: %v", err)
	}
	if !bytes.Contains(stored, []byte("ENTREGA CON INCIDENTE")) {
		t.Error("Winner's evidence document was replaced by the losing confirmer's")
	}

	row, err := mem.GetConfirmationByQr(ctx, receipt.QrID)
	if err != nil {
		t.Fatalf("Confirmation row missing: %v", err)
	}
	if row.ID != winner.ID {
		t.Errorf("Stored confirmation %s is not the winner %s", row.ID, winner.ID)
	}
}

func TestConfirmRollbackKeepsQrPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})
	issue, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	if err := f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, f.sender.lastCode(t), RequestMeta{}); err != nil {
		t.Fatalf("VerifyOtp failed: %v", err)
	}

	f.store.FailConfirmations = true
	if _, err := f.svc.Confirm(ctx, ConfirmRequest{QrID: receipt.QrID, SessionToken: issue.SessionToken}, RequestMeta{}); err == nil {
		t.Fatal("Confirm should fail when the store write fails")
	}

	// A failed write leaves the QR pendiente, so the confirm can be retried
	qr, _ := f.store.GetQr(ctx, receipt.QrID)
	if qr.Status != models.QrStatusPendiente {
		t.Fatalf("QR should stay pendiente after a failed write, got %s", qr.Status)
	}
	if _, err := f.store.GetConfirmationByQr(ctx, receipt.QrID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("No confirmation row should exist after a failed write, got %v", err)
	}

	f.store.FailConfirmations = false
	if _, err := f.svc.Confirm(ctx, ConfirmRequest{QrID: receipt.QrID, SessionToken: issue.SessionToken}, RequestMeta{}); err != nil {
		t.Errorf("Retry after a transient store failure should succeed: %v", err)
	}
}

func TestScanExpiredQr(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	f.clock = f.clock.Add(2 * time.Hour)

	_, err := f.svc.Scan(ctx, res.Token, RequestMeta{})
	if !errors.Is(err, ErrQrExpired) {
		t.Fatalf("Expected ErrQrExpired, got %v", err)
	}

	qr, _ := f.store.GetQr(ctx, res.Qr.ID)
	if qr.Status != models.QrStatusExpirado {
		t.Errorf("QR should be expirado after stale scan, got %s", qr.Status)
	}

	// Terminal: a later scan still reports expiry, not pendiente flow
	if _, err := f.svc.Scan(ctx, res.Token, RequestMeta{}); !errors.Is(err, ErrQrExpired) {
		t.Errorf("Expected ErrQrExpired on re-scan, got %v", err)
	}
}

func TestScanTamperedToken(t *testing.T) {
	f := newFixture(t)
	res := f.dispatch(t)

	mutated := []byte(res.Token)
	mutated[len(mutated)-1] ^= 0x01

	_, err := f.svc.Scan(context.Background(), string(mutated), RequestMeta{})
	if !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestScanRejectedQr(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	if err := f.svc.Reject(ctx, res.Qr.ID, "direccion errada", RequestMeta{}); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if _, err := f.svc.Scan(ctx, res.Token, RequestMeta{}); !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected, got %v", err)
	}
	// Reject is terminal too
	if err := f.svc.Reject(ctx, res.Qr.ID, "otra vez", RequestMeta{}); !errors.Is(err, ErrRejected) {
		t.Errorf("Second reject should conflict, got %v", err)
	}
}

func TestOtpRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)
	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})

	for i := 0; i < 5; i++ {
		if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); err != nil {
			t.Fatalf("Issue %d failed: %v", i+1, err)
		}
	}

	if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("6th issue should be rate limited, got %v", err)
	}
	if len(f.sender.codes) != 5 {
		t.Errorf("Rate-limited issue must not send: %d codes sent", len(f.sender.codes))
	}

	// Window rolls: after it passes, issuance works again
	f.clock = f.clock.Add(16 * time.Minute)
	if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); err != nil {
		t.Errorf("Issue after window should succeed: %v", err)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)
	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})
	issue, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})

	code := f.sender.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	if err := f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, wrong, RequestMeta{}); !errors.Is(err, ErrOtpInvalid) {
		t.Errorf("Expected ErrOtpInvalid, got %v", err)
	}

	// Confirm is still gated
	if _, err := f.svc.Confirm(ctx, ConfirmRequest{QrID: receipt.QrID, SessionToken: issue.SessionToken}, RequestMeta{}); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Unverified session should not confirm, got %v", err)
	}
}

func TestNewSessionInvalidatesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)
	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})

	first, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	firstCode := f.sender.lastCode(t)
	if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); err != nil {
		t.Fatalf("Second issue failed: %v", err)
	}

	if err := f.svc.VerifyOtp(ctx, receipt.QrID, first.SessionToken, firstCode, RequestMeta{}); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Invalidated session should fail, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)
	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})
	issue, _ := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{})
	code := f.sender.lastCode(t)

	f.clock = f.clock.Add(21 * time.Minute)

	if err := f.svc.VerifyOtp(ctx, receipt.QrID, issue.SessionToken, code, RequestMeta{}); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []DispatchRequest{
		{WarehouseID: "BOG-01"}, // missing order
		{OrderID: "SO-1", Packages: []PackageRequest{{PackageNumber: 2}}},                      // out of range
		{OrderID: "SO-1", Packages: []PackageRequest{{PackageNumber: 1}, {PackageNumber: 1}}}, // duplicate
	}
	for i, req := range cases {
		if _, err := f.svc.Dispatch(ctx, req, RequestMeta{}); !errors.Is(err, ErrValidation) {
			t.Errorf("Case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestAuditFailureDoesNotBreakFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	f.store.FailAudit = true
	if _, err := f.svc.Scan(ctx, res.Token, RequestMeta{}); err != nil {
		t.Errorf("Scan must succeed even when audit writes fail: %v", err)
	}
}

func TestOtpSendFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)
	receipt, _ := f.svc.Scan(ctx, res.Token, RequestMeta{})

	f.sender.fail = true
	if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); err == nil {
		t.Fatal("Send failure should propagate to the caller")
	}

	// A failed send does not consume the rate-limit budget
	f.sender.fail = false
	for i := 0; i < 5; i++ {
		if _, err := f.svc.IssueOtp(ctx, receipt.QrID, "", "", RequestMeta{}); err != nil {
			t.Fatalf("Issue %d failed: %v", i+1, err)
		}
	}
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.dispatch(t)

	f.clock = f.clock.Add(2 * time.Hour)
	n, err := f.svc.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired QR, got %d", n)
	}

	qr, _ := f.store.GetQr(ctx, res.Qr.ID)
	if qr.Status != models.QrStatusExpirado {
		t.Errorf("QR should be expirado, got %s", qr.Status)
	}
}
