// Package handler is the thin HTTP layer over the workflows. It delegates to
// the registry service and the certificate verifier without embedding business
// logic, so transport concerns stay isolated.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"landledger/internal/certificate"
	"landledger/internal/hashing"
	"landledger/internal/registry/service"
	dErrors "landledger/pkg/domain-errors"
	authmw "landledger/pkg/platform/middleware/auth"
	"landledger/pkg/platform/middleware/requesttime"
	"landledger/pkg/requestcontext"
)

type Handler struct {
	logger    *slog.Logger
	registry  *service.Service
	verifier  *certificate.Verifier
	validator authmw.Validator
}

func New(registry *service.Service, verifier *certificate.Verifier, validator authmw.Validator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		registry:  registry,
		verifier:  verifier,
		validator: validator,
	}
}

// Register wires all routes. Verification and history are public; everything
// that mutates state requires an authenticated principal.
func (h *Handler) Register(r chi.Router) {
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", h.handleHealth)
	r.Get("/parcels/{parcelID}", h.handleGetParcel)
	r.Get("/parcels/{parcelID}/history", h.handleHistory)
	r.Post("/certificates/verify", h.handleVerifyCertificate)

	r.Group(func(r chi.Router) {
		if h.validator != nil {
			r.Use(authmw.RequireAuth(h.validator, h.logger))
		}
		r.Post("/registrations", h.handleSubmitRegistration)
		r.Post("/registrations/{requestID}/approve", h.handleApproveRegistration)
		r.Post("/registrations/{requestID}/reject", h.handleRejectRegistration)
		r.Post("/parcels/{parcelID}/transfers", h.handleInitiateTransfer)
		r.Post("/parcels/{parcelID}/transfers/approve", h.handleApproveTransfer)
		r.Post("/parcels/{parcelID}/transfers/finalize", h.handleFinalizeTransfer)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRegistrationRequest struct {
	Location        string   `json:"location"`
	AreaSqMeters    float64  `json:"area_sq_meters"`
	DocumentDigests []string `json:"document_digests"`
}

func (h *Handler) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	var body submitRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := h.registry.SubmitRegistration(ctx, caller.CallerID(), hashing.Metadata{
		Location:     body.Location,
		AreaSqMeters: body.AreaSqMeters,
	}, body.DocumentDigests)
	if err != nil {
		h.logger.ErrorContext(ctx, "submit registration failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(req))
}

func (h *Handler) handleApproveRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parcel, err := h.registry.ApproveRegistration(ctx, chi.URLParam(r, "requestID"))
	if err != nil {
		h.logger.ErrorContext(ctx, "approve registration failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelResponse(parcel))
}

func (h *Handler) handleRejectRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parcel, err := h.registry.RejectRegistration(ctx, chi.URLParam(r, "requestID"))
	if err != nil {
		h.logger.ErrorContext(ctx, "reject registration failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelResponse(parcel))
}

func (h *Handler) handleGetParcel(w http.ResponseWriter, r *http.Request) {
	parcel, err := h.registry.GetParcel(r.Context(), chi.URLParam(r, "parcelID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelResponse(parcel))
}

type initiateTransferRequest struct {
	ToOwner string `json:"to_owner"`
}

func (h *Handler) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body initiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.registry.InitiateTransfer(ctx, chi.URLParam(r, "parcelID"), body.ToOwner)
	if err != nil {
		h.logger.ErrorContext(ctx, "initiate transfer failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferResponse(record))
}

func (h *Handler) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := h.registry.ApproveTransfer(ctx, chi.URLParam(r, "parcelID"))
	if err != nil {
		h.logger.ErrorContext(ctx, "approve transfer failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(record))
}

func (h *Handler) handleFinalizeTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.Caller(ctx)
	record, err := h.registry.FinalizeTransfer(ctx, chi.URLParam(r, "parcelID"), caller.CallerID())
	if err != nil {
		h.logger.ErrorContext(ctx, "finalize transfer failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(record))
}

type verifyCertificateRequest struct {
	ParcelID    string `json:"parcel_id"`
	ClaimedHash string `json:"claimed_hash"`
}

func (h *Handler) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var body verifyCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	authentic, err := h.verifier.Verify(r.Context(), body.ParcelID, body.ClaimedHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authentic": authentic})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.verifier.History(r.Context(), chi.URLParam(r, "parcelID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": history})
}
