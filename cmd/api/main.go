package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mesanova/entregas/internal/audit"
	"github.com/mesanova/entregas/internal/blob"
	"github.com/mesanova/entregas/internal/config"
	"github.com/mesanova/entregas/internal/database"
	"github.com/mesanova/entregas/internal/erp"
	"github.com/mesanova/entregas/internal/handlers"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/otp"
	"github.com/mesanova/entregas/internal/services/delivery"
	"github.com/mesanova/entregas/internal/services/offline"
	"github.com/mesanova/entregas/internal/store"
	"github.com/mesanova/entregas/internal/token"
	"github.com/mesanova/entregas/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.UserAuth{},

		// QR registry
		&models.DeliveryQrToken{},
		&models.DeliveryPackage{},

		// OTP validation
		&models.DeliveryValidationSession{},
		&models.DeliveryOtpAttempt{},

		// Confirmations & offline sync
		&models.DeliveryConfirmation{},
		&models.DeliveryOfflineEvent{},

		// Audit trail
		&models.DeliveryAuditLog{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	repo := store.NewGorm(db)
	auditWriter := audit.NewWriter(repo)

	// 4. ERP provider: Odoo when configured, static otherwise
	registry := erp.NewRegistry()
	if cfg.Erp.URL != "" {
		provider := erp.NewOdooProvider(erp.OdooConfig{
			URL:      cfg.Erp.URL,
			Database: cfg.Erp.Database,
			Username: cfg.Erp.Username,
			Password: cfg.Erp.Password,
		})
		if err := registry.Register(provider); err != nil {
			log.Fatalf("Failed to register ERP provider: %v", err)
		}
		log.Println("✅ ERP: Odoo provider registered")
	} else {
		if err := registry.Register(erp.NewStaticProvider()); err != nil {
			log.Fatalf("Failed to register ERP provider: %v", err)
		}
		log.Println("⚠️ ERP: No ERP configured, using static provider")
	}
	providerCode := "odoo"
	if cfg.Erp.URL == "" {
		providerCode = "static"
	}
	orders, err := registry.Get(providerCode)
	if err != nil {
		log.Fatalf("ERP provider lookup failed: %v", err)
	}

	// 5. OTP sender: external gateway when configured, console otherwise
	var sender otp.Sender
	if cfg.Otp.GatewayURL != "" {
		sender = otp.NewGatewaySender(cfg.Otp.GatewayURL, cfg.Otp.GatewayKey)
		log.Println("✅ OTP: Gateway sender configured")
	} else {
		sender = otp.NewConsoleSender()
		log.Println("⚠️ OTP: No gateway configured, codes go to the log")
	}

	// 6. Evidence storage
	blobs, err := blob.NewFilesystemStore(cfg.EvidenceDir)
	if err != nil {
		log.Fatalf("Failed to open evidence storage: %v", err)
	}

	// 7. Delivery core
	hub := ws.NewHub()
	go hub.Run()

	delSvc := delivery.NewService(repo, token.NewCodec(cfg.ServerSecret), token.NewHasher(cfg.ServerSecret),
		auditWriter, orders, sender, blobs, cfg.Delivery)
	delSvc.SetEventSink(hub)

	reconciler := offline.NewReconciler(repo, token.NewHasher(cfg.ServerSecret), auditWriter)
	reconciler.SetEventSink(hub)

	// 8. Set up HTTP router
	router := handlers.NewRouter(repo, delSvc, reconciler, hub, cfg.JWTSecret)

	// Janitor: sweep overdue pendiente QRs. Expiry is also checked lazily
	// on every call, the sweep only keeps dashboards honest.
	janitorStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if n, err := delSvc.ExpireStale(ctx); err != nil {
					log.Printf("Janitor error: %v", err)
				} else if n > 0 {
					log.Printf("🧹 Janitor: expired %d stale QRs", n)
				}
				cancel()
			case <-janitorStop:
				return
			}
		}
	}()
	log.Println("✅ Delivery: Janitor started")

	// 9. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop background workers before the database goes away
	close(janitorStop)
	hub.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
