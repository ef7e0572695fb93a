package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"landledger/internal/registry/models"
	dErrors "landledger/pkg/domain-errors"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Retryable tells clients whether re-polling the same request can
	// succeed (confirmation timeouts), as opposed to terminal rejections.
	Retryable bool `json:"retryable,omitempty"`
}

type parcelResponse struct {
	ID              string   `json:"id"`
	LedgerID        *int64   `json:"ledger_id,omitempty"`
	OwnerID         string   `json:"owner_id"`
	Location        string   `json:"location"`
	AreaSqMeters    float64  `json:"area_sq_meters"`
	DocumentDigests []string `json:"document_digests"`
	MetadataDigest  string   `json:"metadata_digest"`
	Status          string   `json:"status"`
	TransferLock    bool     `json:"transfer_lock"`
}

type requestResponse struct {
	ID              string `json:"id"`
	LedgerRequestID int64  `json:"ledger_request_id"`
	ParcelID        string `json:"parcel_id"`
	RequesterID     string `json:"requester_id"`
	MetadataDigest  string `json:"metadata_digest"`
	Approved        bool   `json:"approved"`
}

type transferResponse struct {
	ID        string `json:"id"`
	ParcelID  string `json:"parcel_id"`
	FromOwner string `json:"from_owner"`
	ToOwner   string `json:"to_owner"`
	TxHash    string `json:"tx_hash,omitempty"`
	Status    string `json:"status"`
}

func toParcelResponse(p *models.Parcel) parcelResponse {
	return parcelResponse{
		ID:              p.ID,
		LedgerID:        p.LedgerID,
		OwnerID:         p.OwnerID,
		Location:        p.Location,
		AreaSqMeters:    p.AreaSqMeters,
		DocumentDigests: p.DocumentDigests,
		MetadataDigest:  p.MetadataDigest,
		Status:          string(p.Status),
		TransferLock:    p.TransferLock,
	}
}

func toRequestResponse(r *models.RegistrationRequest) requestResponse {
	return requestResponse{
		ID:              r.ID,
		LedgerRequestID: r.LedgerRequestID,
		ParcelID:        r.ParcelID,
		RequesterID:     r.RequesterID,
		MetadataDigest:  r.MetadataDigest,
		Approved:        r.Approved,
	}
}

func toTransferResponse(t *models.TransferRecord) transferResponse {
	return transferResponse{
		ID:        t.ID,
		ParcelID:  t.ParcelID,
		FromOwner: t.FromOwner,
		ToOwner:   t.ToOwner,
		TxHash:    t.TxHash,
		Status:    string(t.Status),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain error codes into HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
		message = de.Message
	}

	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeEncoding:
		status = http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeAlreadyProcessed, dErrors.CodeTransferInProgress, dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodeOwnershipUnchanged, dErrors.CodeLedgerRejected:
		status = http.StatusUnprocessableEntity
	case dErrors.CodeConfirmationTimeout:
		status = http.StatusGatewayTimeout
	case dErrors.CodeLedgerUnavailable:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{
		Error:     string(code),
		Message:   message,
		Retryable: dErrors.Retryable(err),
	})
}
