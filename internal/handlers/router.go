package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mesanova/entregas/internal/middleware"
	"github.com/mesanova/entregas/internal/services/delivery"
	"github.com/mesanova/entregas/internal/services/offline"
	"github.com/mesanova/entregas/internal/store"
	"github.com/mesanova/entregas/internal/token"
	"github.com/mesanova/entregas/internal/ws"
)

// Router wraps the mux router and the delivery services
type Router struct {
	*mux.Router
	store      store.Store
	delivery   *delivery.Service
	reconciler *offline.Reconciler
	hub        *ws.Hub
	jwtSecret  string
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(s store.Store, svc *delivery.Service, rec *offline.Reconciler, hub *ws.Hub, jwtSecret string) *Router {
	r := &Router{
		Router:     mux.NewRouter(),
		store:      s,
		delivery:   svc,
		reconciler: rec,
		hub:        hub,
		jwtSecret:  jwtSecret,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Delivery routes: callers authenticate with the QR token itself and
	// the OTP session, never with a user account
	del := r.PathPrefix("/api/delivery").Subrouter()
	del.HandleFunc("/scan", r.scan).Methods("POST")
	del.HandleFunc("/{qrId}/otp/issue", r.issueOtp).Methods("POST")
	del.HandleFunc("/{qrId}/otp/verify", r.verifyOtp).Methods("POST")
	del.HandleFunc("/{qrId}/confirm", r.confirm).Methods("POST")
	del.HandleFunc("/{qrId}/evidence", r.evidence).Methods("GET")
	del.HandleFunc("/offline/sync", r.offlineSync).Methods("POST")

	// Admin routes (JWT protected)
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.Auth(jwtSecret))
	admin.HandleFunc("/dispatch", r.dispatch).Methods("POST")
	admin.HandleFunc("/labels", r.labels).Methods("POST")
	admin.HandleFunc("/qr/{qrId}/reject", r.reject).Methods("POST")
	admin.HandleFunc("/qr/{qrId}/evidence", r.adminEvidence).Methods("GET")

	// Live event feed for dashboards
	if hub != nil {
		r.HandleFunc("/ws/delivery", func(w http.ResponseWriter, req *http.Request) {
			ws.ServeWs(hub, w, req)
		})
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "local",
	})
}

// getStatus returns the current status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"version": "1.0.0",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with a stable machine code
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// respondDeliveryError maps service errors onto HTTP statuses and the
// machine codes the mobile client switches on
func respondDeliveryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "token_invalido", "El código QR no es válido")
	case errors.Is(err, delivery.ErrQrExpired):
		respondError(w, http.StatusGone, "qr_expirado", "El código QR ha expirado")
	case errors.Is(err, delivery.ErrAlreadyConfirmed):
		respondError(w, http.StatusConflict, "ya_confirmado", "La entrega ya fue confirmada")
	case errors.Is(err, delivery.ErrRejected):
		respondError(w, http.StatusConflict, "qr_rechazado", "El código QR fue rechazado")
	case errors.Is(err, delivery.ErrConflict):
		respondError(w, http.StatusConflict, "estado_conflicto", "La entrega cambió de estado")
	case errors.Is(err, delivery.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "limite_excedido", "Demasiados intentos, espere unos minutos")
	case errors.Is(err, delivery.ErrSessionExpired):
		respondError(w, http.StatusUnauthorized, "sesion_expirada", "La sesión de validación ha expirado")
	case errors.Is(err, delivery.ErrSessionInvalid):
		respondError(w, http.StatusUnauthorized, "sesion_invalida", "La sesión de validación no es válida")
	case errors.Is(err, delivery.ErrOtpInvalid):
		respondError(w, http.StatusUnauthorized, "codigo_invalido", "El código no es correcto")
	case errors.Is(err, delivery.ErrValidation):
		respondError(w, http.StatusBadRequest, "campos_requeridos", err.Error())
	case errors.Is(err, delivery.ErrNotFound):
		respondError(w, http.StatusNotFound, "no_encontrado", "No existe el recurso")
	default:
		respondError(w, http.StatusInternalServerError, "error_interno", "Error interno del servidor")
	}
}

// requestMeta extracts audit context from the request
func requestMeta(req *http.Request) delivery.RequestMeta {
	return delivery.RequestMeta{
		RequestID:  req.Header.Get("X-Request-Id"),
		IPAddress:  req.RemoteAddr,
		DeviceInfo: req.UserAgent(),
	}
}
