package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"privora/internal/common"
	"privora/internal/models"
)

func (s *Store) CreateTransfer(ctx context.Context, t *models.Transfer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (id, file_id, sender_id, receiver_id, status, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.FileID, t.SenderID, t.ReceiverID, t.Status, t.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *Store) GetTransferByID(ctx context.Context, id string) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, sender_id, receiver_id, status, sent_at, received_at, decrypted_at
		 FROM transfers WHERE id=$1`, id,
	).Scan(&t.ID, &t.FileID, &t.SenderID, &t.ReceiverID, &t.Status, &t.SentAt, &t.ReceivedAt, &t.DecryptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

// ApplyTransferStatus advances a transfer in one statement so a partial
// write (status moved but timestamp missing) cannot be observed. The guard
// re-checks the current status inside the UPDATE itself, so two racing
// requests that both validated against the same read cannot move the status
// backward; the loser matches zero rows and gets ErrInvalidTransition.
// Timestamps already set are left untouched.
func (s *Store) ApplyTransferStatus(ctx context.Context, id, status string, receivedAt, decryptedAt *time.Time) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := s.db.QueryRowContext(ctx,
		`UPDATE transfers
		 SET status=$2,
		     received_at=COALESCE(received_at, $3),
		     decrypted_at=COALESCE(decrypted_at, $4)
		 WHERE id=$1
		   AND (($2 = 'received'  AND status = 'pending')
		     OR ($2 = 'decrypted' AND status <> 'decrypted'))
		 RETURNING id, file_id, sender_id, receiver_id, status, sent_at, received_at, decrypted_at`,
		id, status, receivedAt, decryptedAt,
	).Scan(&t.ID, &t.FileID, &t.SenderID, &t.ReceiverID, &t.Status, &t.SentAt, &t.ReceivedAt, &t.DecryptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("update transfer: %w", err)
	}
	return t, nil
}

// ListTransfersSent returns transfers initiated by the user, newest first,
// with file and receiver summaries attached. A limit of 0 means no cap.
func (s *Store) ListTransfersSent(ctx context.Context, userID string, limit int) ([]*models.Transfer, error) {
	return s.listTransfers(ctx, "sender_id", userID, limit)
}

// ListTransfersReceived returns transfers addressed to the user, newest
// first, with file and sender summaries attached.
func (s *Store) ListTransfersReceived(ctx context.Context, userID string, limit int) ([]*models.Transfer, error) {
	return s.listTransfers(ctx, "receiver_id", userID, limit)
}

func (s *Store) listTransfers(ctx context.Context, scopeColumn, userID string, limit int) ([]*models.Transfer, error) {
	query := fmt.Sprintf(
		`SELECT t.id, t.file_id, t.sender_id, t.receiver_id, t.status, t.sent_at, t.received_at, t.decrypted_at,
		        f.id, f.original_name, f.size, f.mime_type,
		        su.id, su.username, su.email,
		        ru.id, ru.username, ru.email
		 FROM transfers t
		 JOIN files f  ON f.id  = t.file_id
		 JOIN users su ON su.id = t.sender_id
		 JOIN users ru ON ru.id = t.receiver_id
		 WHERE t.%s = $1
		 ORDER BY t.sent_at DESC`, scopeColumn)
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t := &models.Transfer{
			File:     &models.FileSummary{},
			Sender:   &models.UserSummary{},
			Receiver: &models.UserSummary{},
		}
		if err := rows.Scan(
			&t.ID, &t.FileID, &t.SenderID, &t.ReceiverID, &t.Status, &t.SentAt, &t.ReceivedAt, &t.DecryptedAt,
			&t.File.ID, &t.File.OriginalName, &t.File.Size, &t.File.MimeType,
			&t.Sender.ID, &t.Sender.Username, &t.Sender.Email,
			&t.Receiver.ID, &t.Receiver.Username, &t.Receiver.Email,
		); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
