package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mesanova/entregas/internal/auth"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles back-office login
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "Cuerpo de solicitud inválido")
		return
	}

	user, err := r.store.GetUserByEmail(req.Context(), loginReq.Email)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "credenciales_invalidas", "Credenciales inválidas")
		return
	}

	if !user.IsActive || !auth.CheckPasswordHash(loginReq.Password, user.Password) {
		respondError(w, http.StatusUnauthorized, "credenciales_invalidas", "Credenciales inválidas")
		return
	}

	now := time.Now()
	user.LastLogin = &now
	if err := r.store.SaveUser(req.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "error_interno", "Error interno del servidor")
		return
	}

	accessToken, refreshToken, err := auth.GenerateTokens(user, r.jwtSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "error_interno", "No se pudieron generar los tokens")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": map[string]string{
			"accessToken":  accessToken,
			"refreshToken": refreshToken,
		},
		"user": user,
	})
}
