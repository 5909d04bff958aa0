package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"privora/internal/common"
	"privora/internal/models"
)

func (s *Store) CreateFile(ctx context.Context, f *models.File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, owner_id, original_name, encrypted_name, encrypted_path, size, mime_type, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.OwnerID, f.OriginalName, f.EncryptedName, f.EncryptedPath, f.Size, f.MimeType, f.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *Store) GetFileByID(ctx context.Context, id string) (*models.File, error) {
	f := &models.File{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, original_name, encrypted_name, encrypted_path, size, mime_type, uploaded_at
		 FROM files WHERE id=$1`, id,
	).Scan(&f.ID, &f.OwnerID, &f.OriginalName, &f.EncryptedName, &f.EncryptedPath, &f.Size, &f.MimeType, &f.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Store) ListFilesByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, original_name, encrypted_name, encrypted_path, size, mime_type, uploaded_at
		 FROM files WHERE owner_id=$1 ORDER BY uploaded_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f := &models.File{}
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.OriginalName, &f.EncryptedName, &f.EncryptedPath,
			&f.Size, &f.MimeType, &f.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// HasTransferParty reports whether userID is a sender or receiver on any
// transfer of the file, which grants download access to non-owners.
func (s *Store) HasTransferParty(ctx context.Context, fileID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transfers WHERE file_id=$1 AND (sender_id=$2 OR receiver_id=$2)`,
		fileID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check transfer party: %w", err)
	}
	return n > 0, nil
}

// DeleteFile removes the file row; transfers cascade at the database level.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}
