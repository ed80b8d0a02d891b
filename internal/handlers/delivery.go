package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/services/delivery"
	"github.com/mesanova/entregas/internal/services/printer"
)

// ScanRequest carries the raw token read from a QR image
type ScanRequest struct {
	Token string `json:"token"`
}

// scan resolves a presented QR token
func (r *Router) scan(w http.ResponseWriter, req *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Token == "" {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "token es requerido")
		return
	}

	receipt, err := r.delivery.Scan(req.Context(), body.Token, requestMeta(req))
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// IssueOtpRequest selects the delivery channel for the code
type IssueOtpRequest struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
}

// issueOtp opens a validation session and sends the code
func (r *Router) issueOtp(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]

	var body IssueOtpRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "Cuerpo de solicitud inválido")
		return
	}

	receipt, err := r.delivery.IssueOtp(req.Context(), qrID, body.Channel, body.Destination, requestMeta(req))
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// VerifyOtpRequest carries the session credential pair
type VerifyOtpRequest struct {
	SessionToken string `json:"sessionToken"`
	Code         string `json:"code"`
}

// verifyOtp checks the submitted code
func (r *Router) verifyOtp(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]

	var body VerifyOtpRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.SessionToken == "" || body.Code == "" {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "sessionToken y code son requeridos")
		return
	}

	if err := r.delivery.VerifyOtp(req.Context(), qrID, body.SessionToken, body.Code, requestMeta(req)); err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// ConfirmRequest finalizes a delivery, optionally flagging an incident
type ConfirmRequest struct {
	SessionToken string `json:"sessionToken"`
	Incident     bool   `json:"incident"`
	Notes        string `json:"notes"`
	SignatureRef string `json:"signatureRef"`
}

// confirm records the delivery and generates the evidence document
func (r *Router) confirm(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]

	var body ConfirmRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.SessionToken == "" {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "sessionToken es requerido")
		return
	}

	confirmation, err := r.delivery.Confirm(req.Context(), delivery.ConfirmRequest{
		QrID:         qrID,
		SessionToken: body.SessionToken,
		Incident:     body.Incident,
		Notes:        body.Notes,
		SignatureRef: body.SignatureRef,
	}, requestMeta(req))
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, confirmation)
}

// evidence serves the confirmation PDF to a customer holding a verified
// session
func (r *Router) evidence(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]
	sessionToken := req.Header.Get("X-Session-Token")
	if sessionToken == "" {
		sessionToken = req.URL.Query().Get("session")
	}

	pdf, err := r.delivery.Evidence(req.Context(), qrID, sessionToken, false)
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	servePdf(w, qrID, pdf)
}

// adminEvidence serves the confirmation PDF to back-office users
func (r *Router) adminEvidence(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]

	pdf, err := r.delivery.Evidence(req.Context(), qrID, "", true)
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	servePdf(w, qrID, pdf)
}

func servePdf(w http.ResponseWriter, qrID string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "entrega_"+qrID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// dispatch registers a new delivery QR batch
func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	var body delivery.DispatchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "Cuerpo de solicitud inválido")
		return
	}

	meta := requestMeta(req)
	meta.ActorType = models.AuditActorAdmin

	result, err := r.delivery.Dispatch(req.Context(), body, meta)
	if err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// LabelsRequest renders a printable sheet for freshly dispatched QRs.
// The caller supplies the tokens: they are returned exactly once at
// dispatch and never stored server-side.
type LabelsRequest struct {
	Sheet  *printer.SheetConfig `json:"sheet,omitempty"`
	Labels []printer.Label      `json:"labels"`
}

// labels renders a printable label sheet
func (r *Router) labels(w http.ResponseWriter, req *http.Request) {
	var body LabelsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || len(body.Labels) == 0 {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "labels es requerido")
		return
	}

	sheet := printer.DefaultSheet()
	if body.Sheet != nil {
		sheet = *body.Sheet
	}

	pdf, err := printer.GenerateLabelSheet(sheet, body.Labels)
	if err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="etiquetas.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// RejectRequest carries the rejection reason
type RejectRequest struct {
	Reason string `json:"reason"`
}

// reject terminally invalidates a pendiente QR
func (r *Router) reject(w http.ResponseWriter, req *http.Request) {
	qrID := mux.Vars(req)["qrId"]

	var body RejectRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "campos_requeridos", "Cuerpo de solicitud inválido")
		return
	}

	meta := requestMeta(req)
	meta.ActorType = models.AuditActorAdmin

	if err := r.delivery.Reject(req.Context(), qrID, body.Reason, meta); err != nil {
		respondDeliveryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": models.QrStatusRechazado})
}
