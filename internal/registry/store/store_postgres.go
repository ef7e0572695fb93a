package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/registry/models"
)

// PostgresStore persists the projections in PostgreSQL. Conditional updates
// compile to single UPDATE statements guarded on the current status column;
// the database's row-level atomicity is what makes the compare-and-swap safe
// across multiple engine instances sharing the store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const parcelColumns = `id, ledger_id, owner_id, location, area_sq_meters, document_digests, metadata_digest, status, transfer_lock, created_at, updated_at`

func (s *PostgresStore) CreateParcel(ctx context.Context, p *models.Parcel) error {
	const stmt = `
INSERT INTO parcels (id, ledger_id, owner_id, location, area_sq_meters, document_digests, metadata_digest, status, transfer_lock, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, stmt,
		p.ID, p.LedgerID, p.OwnerID, p.Location, p.AreaSqMeters,
		p.DocumentDigests, p.MetadataDigest, p.Status, p.TransferLock,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create parcel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParcel(ctx context.Context, id string) (*models.Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE id = $1`
	return s.scanParcel(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetParcelByLedgerID(ctx context.Context, ledgerID int64) (*models.Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE ledger_id = $1`
	return s.scanParcel(s.pool.QueryRow(ctx, query, ledgerID))
}

func (s *PostgresStore) scanParcel(row pgx.Row) (*models.Parcel, error) {
	var p models.Parcel
	err := row.Scan(&p.ID, &p.LedgerID, &p.OwnerID, &p.Location, &p.AreaSqMeters,
		&p.DocumentDigests, &p.MetadataDigest, &p.Status, &p.TransferLock,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan parcel: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateParcelConditional(ctx context.Context, id string, expected models.ParcelStatus, patch ParcelPatch) (bool, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, expected}
	next := 3

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.LedgerID != nil {
		add("ledger_id", *patch.LedgerID)
	}
	if patch.OwnerID != nil {
		add("owner_id", *patch.OwnerID)
	}
	if patch.MetadataDigest != nil {
		add("metadata_digest", *patch.MetadataDigest)
	}
	if patch.DocumentDigests != nil {
		add("document_digests", *patch.DocumentDigests)
	}
	if patch.TransferLock != nil {
		add("transfer_lock", *patch.TransferLock)
	}

	stmt := fmt.Sprintf(`UPDATE parcels SET %s WHERE id = $1 AND status = $2`, strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update parcel conditional: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a failed guard.
		if _, err := s.GetParcel(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) LockForTransfer(ctx context.Context, parcelID string) (bool, error) {
	const stmt = `UPDATE parcels SET transfer_lock = TRUE, updated_at = NOW() WHERE id = $1 AND transfer_lock = FALSE`
	tag, err := s.pool.Exec(ctx, stmt, parcelID)
	if err != nil {
		return false, fmt.Errorf("lock for transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetParcel(ctx, parcelID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) Unlock(ctx context.Context, parcelID string) error {
	const stmt = `UPDATE parcels SET transfer_lock = FALSE, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, stmt, parcelID)
	if err != nil {
		return fmt.Errorf("unlock parcel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateRegistrationRequest(ctx context.Context, r *models.RegistrationRequest) error {
	const stmt = `
INSERT INTO registration_requests (id, ledger_request_id, parcel_id, requester_id, metadata_digest, approved, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, stmt,
		r.ID, r.LedgerRequestID, r.ParcelID, r.RequesterID, r.MetadataDigest,
		r.Approved, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create registration request: %w", err)
	}
	return nil
}

const requestColumns = `id, ledger_request_id, parcel_id, requester_id, metadata_digest, approved, created_at, updated_at`

func (s *PostgresStore) GetRegistrationRequest(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM registration_requests WHERE id = $1`
	return s.scanRequest(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetRequestByLedgerID(ctx context.Context, ledgerRequestID int64) (*models.RegistrationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM registration_requests WHERE ledger_request_id = $1`
	return s.scanRequest(s.pool.QueryRow(ctx, query, ledgerRequestID))
}

func (s *PostgresStore) scanRequest(row pgx.Row) (*models.RegistrationRequest, error) {
	var r models.RegistrationRequest
	err := row.Scan(&r.ID, &r.LedgerRequestID, &r.ParcelID, &r.RequesterID,
		&r.MetadataDigest, &r.Approved, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan registration request: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) MarkRequestProcessed(ctx context.Context, id string) error {
	const stmt = `UPDATE registration_requests SET approved = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("mark request processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const transferColumns = `id, parcel_id, from_owner, to_owner, tx_hash, status, created_at, updated_at`

func (s *PostgresStore) CreateTransfer(ctx context.Context, t *models.TransferRecord) error {
	const stmt = `
INSERT INTO transfer_records (id, parcel_id, from_owner, to_owner, tx_hash, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, stmt,
		t.ID, t.ParcelID, t.FromOwner, t.ToOwner, t.TxHash, t.Status,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (*models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_records WHERE id = $1`
	return s.scanTransfer(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) LatestTransfer(ctx context.Context, parcelID string) (*models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_records WHERE parcel_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	return s.scanTransfer(s.pool.QueryRow(ctx, query, parcelID))
}

func (s *PostgresStore) OpenTransfer(ctx context.Context, parcelID string) (*models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_records WHERE parcel_id = $1 AND status IN ('pending', 'approved') ORDER BY created_at DESC LIMIT 1`
	return s.scanTransfer(s.pool.QueryRow(ctx, query, parcelID))
}

func (s *PostgresStore) scanTransfer(row pgx.Row) (*models.TransferRecord, error) {
	var t models.TransferRecord
	err := row.Scan(&t.ID, &t.ParcelID, &t.FromOwner, &t.ToOwner, &t.TxHash,
		&t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) UpdateTransferConditional(ctx context.Context, id string, expected models.TransferStatus, patch TransferPatch) (bool, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, expected}
	next := 3

	if patch.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", next))
		args = append(args, *patch.Status)
		next++
	}
	if patch.TxHash != nil {
		sets = append(sets, fmt.Sprintf("tx_hash = $%d", next))
		args = append(args, *patch.TxHash)
		next++
	}

	stmt := fmt.Sprintf(`UPDATE transfer_records SET %s WHERE id = $1 AND status = $2`, strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update transfer conditional: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTransfer(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
