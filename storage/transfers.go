package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// BeginTransfer inserts a journal row for a transfer that started streaming.
func (s *Store) BeginTransfer(transfer Transfer) error {
	if transfer.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if err := validateTransferDirection(transfer.Direction); err != nil {
		return err
	}
	if transfer.PeerAddr == "" {
		return errors.New("peer_addr is required")
	}
	if transfer.Status == "" {
		transfer.Status = TransferStatusStreaming
	}
	if err := validateTransferStatus(transfer.Status); err != nil {
		return err
	}
	if transfer.StartedAt == 0 {
		transfer.StartedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			direction,
			peer_addr,
			filename,
			stored_path,
			bytes,
			digest,
			status,
			started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.TransferID,
		transfer.Direction,
		transfer.PeerAddr,
		transfer.Filename,
		transfer.StoredPath,
		transfer.Bytes,
		transfer.Digest,
		transfer.Status,
		transfer.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer %q: %w", transfer.TransferID, err)
	}

	return nil
}

// FinishTransfer records the terminal outcome of a journaled transfer.
func (s *Store) FinishTransfer(transferID string, outcome TransferOutcome) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}
	if outcome.Status != TransferStatusDone && outcome.Status != TransferStatusFailed {
		return fmt.Errorf("invalid terminal transfer status %q", outcome.Status)
	}
	if err := validateDigest(outcome.Digest); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = ?,
			bytes = ?,
			digest = ?,
			failed_state = ?,
			error = ?,
			finished_at = ?
		WHERE transfer_id = ?`,
		outcome.Status,
		outcome.Bytes,
		outcome.Digest,
		nullString(outcome.FailedState),
		nullString(outcome.Error),
		nowUnixMilli(),
		transferID,
	)
	if err != nil {
		return fmt.Errorf("update transfer %q: %w", transferID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer %q: %w", transferID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetTransfer fetches one journaled transfer by ID.
func (s *Store) GetTransfer(transferID string) (*Transfer, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			direction,
			peer_addr,
			filename,
			stored_path,
			bytes,
			digest,
			status,
			failed_state,
			error,
			started_at,
			finished_at
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}

	return transfer, nil
}

// ListTransfers returns journaled transfers newest first, optionally filtered by direction.
func (s *Store) ListTransfers(direction string, limit int) ([]Transfer, error) {
	query := `SELECT
		transfer_id,
		direction,
		peer_addr,
		filename,
		stored_path,
		bytes,
		digest,
		status,
		failed_state,
		error,
		started_at,
		finished_at
	FROM transfers`
	args := make([]any, 0, 2)
	if direction != "" {
		if err := validateTransferDirection(direction); err != nil {
			return nil, err
		}
		query += " WHERE direction = ?"
		args = append(args, direction)
	}
	query += " ORDER BY started_at DESC, transfer_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return transfers, nil
}

func scanTransfer(row scanner) (*Transfer, error) {
	var (
		transfer    Transfer
		failedState sql.NullString
		errText     sql.NullString
		finishedAt  sql.NullInt64
	)

	if err := row.Scan(
		&transfer.TransferID,
		&transfer.Direction,
		&transfer.PeerAddr,
		&transfer.Filename,
		&transfer.StoredPath,
		&transfer.Bytes,
		&transfer.Digest,
		&transfer.Status,
		&failedState,
		&errText,
		&transfer.StartedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	if failedState.Valid {
		transfer.FailedState = failedState.String
	}
	if errText.Valid {
		transfer.Error = errText.String
	}
	transfer.FinishedAt = int64Ptr(finishedAt)

	return &transfer, nil
}
