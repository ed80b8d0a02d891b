package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mesanova/entregas/internal/services/offline"
)

// SyncRequest is a batch of offline events from one device
type SyncRequest struct {
	DeviceID string         `json:"deviceId"`
	Items    []offline.Item `json:"items"`
}

// SyncResponse reports the per-item outcomes, positionally aligned with
// the submitted batch
type SyncResponse struct {
	Results []offline.ItemResult `json:"results"`
}

// offlineSync reconciles a queued batch. The endpoint always answers 200
// when the batch itself is well-formed: rejections are per-item results,
// not transport failures, so the device can safely drop them.
func (r *Router) offlineSync(w http.ResponseWriter, req *http.Request) {
	var body SyncRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "Cuerpo de solicitud inválido")
		return
	}
	if body.DeviceID == "" || len(body.Items) == 0 {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "deviceId e items son requeridos")
		return
	}

	results := r.reconciler.Process(req.Context(), body.DeviceID, body.Items, req.Header.Get("X-Request-Id"))
	respondJSON(w, http.StatusOK, SyncResponse{Results: results})
}
