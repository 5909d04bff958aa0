// Package transfer owns the transfer status lifecycle: creation, per-step
// authorization and the push notification that tells an online receiver a
// file is waiting for them.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"privora/internal/common"
	"privora/internal/models"
)

// Store is the persistence surface the coordinator needs. Each write is a
// single atomic operation; a half-applied status change is not a possible
// outcome.
type Store interface {
	GetFileByID(ctx context.Context, id string) (*models.File, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateTransfer(ctx context.Context, t *models.Transfer) error
	GetTransferByID(ctx context.Context, id string) (*models.Transfer, error)
	ApplyTransferStatus(ctx context.Context, id, status string, receivedAt, decryptedAt *time.Time) (*models.Transfer, error)
	ListTransfersSent(ctx context.Context, userID string, limit int) ([]*models.Transfer, error)
	ListTransfersReceived(ctx context.Context, userID string, limit int) ([]*models.Transfer, error)
}

// Notifier delivers an event to one online user, best-effort.
type Notifier interface {
	Notify(targetUserID, event string, payload interface{}) bool
}

type Coordinator struct {
	store    Store
	notifier Notifier
}

func NewCoordinator(store Store, notifier Notifier) *Coordinator {
	return &Coordinator{store: store, notifier: notifier}
}

// receivedEvent is the push payload for a new incoming transfer.
type receivedEvent struct {
	TransferID string             `json:"transferId"`
	File       models.FileSummary `json:"file"`
	Sender     models.UserSummary `json:"sender"`
	SentAt     time.Time          `json:"sentAt"`
}

// Create records a new transfer of a file from sender to receiver. The
// sender must own the file and the receiver must exist. The transfer is
// durable whether or not the receiver was online to see the notification.
func (c *Coordinator) Create(ctx context.Context, sender *models.Identity, fileID, receiverID string) (*models.Transfer, error) {
	file, err := c.store.GetFileByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if file.OwnerID != sender.ID {
		return nil, fmt.Errorf("not the file owner: %w", common.ErrForbidden)
	}

	receiver, err := c.store.GetUserByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("receiver %s: %w", receiverID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	t := &models.Transfer{
		ID:         uuid.NewString(),
		FileID:     file.ID,
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Status:     models.StatusPending,
		SentAt:     time.Now(),
		File: &models.FileSummary{
			ID:           file.ID,
			OriginalName: file.OriginalName,
			Size:         file.Size,
			MimeType:     file.MimeType,
		},
		Sender:   &models.UserSummary{ID: sender.ID, Username: sender.Username, Email: sender.Email},
		Receiver: &models.UserSummary{ID: receiver.ID, Username: receiver.Username, Email: receiver.Email},
	}
	if err := c.store.CreateTransfer(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	delivered := c.notifier.Notify(receiver.ID, "file-received", receivedEvent{
		TransferID: t.ID,
		File:       *t.File,
		Sender:     *t.Sender,
		SentAt:     t.SentAt,
	})

	logrus.WithFields(logrus.Fields{
		"transferId": t.ID,
		"sender":     sender.Username,
		"receiver":   receiver.Username,
		"delivered":  delivered,
	}).Info("Transfer created")

	return t, nil
}

// UpdateStatus advances the lifecycle. Only the receiver may advance it,
// status never moves backward, and each timestamp is set exactly once —
// repeating a step whose timestamp is already set is rejected.
func (c *Coordinator) UpdateStatus(ctx context.Context, acting *models.Identity, transferID, newStatus string) (*models.Transfer, error) {
	if newStatus != models.StatusReceived && newStatus != models.StatusDecrypted {
		return nil, fmt.Errorf("status %q: %w", newStatus, common.ErrInvalidTransition)
	}

	t, err := c.store.GetTransferByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("transfer %s: %w", transferID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if t.ReceiverID != acting.ID {
		return nil, fmt.Errorf("only the receiver may update status: %w", common.ErrForbidden)
	}

	now := time.Now()
	var receivedAt, decryptedAt *time.Time

	switch newStatus {
	case models.StatusReceived:
		if t.Status != models.StatusPending || t.ReceivedAt != nil {
			return nil, fmt.Errorf("%s → received: %w", t.Status, common.ErrInvalidTransition)
		}
		receivedAt = &now
	case models.StatusDecrypted:
		if t.Status == models.StatusDecrypted || t.DecryptedAt != nil {
			return nil, fmt.Errorf("%s → decrypted: %w", t.Status, common.ErrInvalidTransition)
		}
		decryptedAt = &now
	}

	// The store re-checks the transition inside the write itself, so a
	// racing request that advanced the status after our read loses here
	// instead of moving the status backward.
	updated, err := c.store.ApplyTransferStatus(ctx, t.ID, newStatus, receivedAt, decryptedAt)
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			return nil, fmt.Errorf("%s → %s: %w", t.Status, newStatus, common.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return updated, nil
}

// ListSent returns the transfers the identity initiated, newest first.
func (c *Coordinator) ListSent(ctx context.Context, identity *models.Identity) ([]*models.Transfer, error) {
	transfers, err := c.store.ListTransfersSent(ctx, identity.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return transfers, nil
}

// ListReceived returns the transfers addressed to the identity, newest
// first. The scoping is an authorization boundary: nobody else's transfers
// can appear here.
func (c *Coordinator) ListReceived(ctx context.Context, identity *models.Identity) ([]*models.Transfer, error) {
	transfers, err := c.store.ListTransfersReceived(ctx, identity.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return transfers, nil
}

// History returns the identity's sent and received transfers, capped at the
// most recent 50 each.
func (c *Coordinator) History(ctx context.Context, identity *models.Identity) (sent, received []*models.Transfer, err error) {
	sent, err = c.store.ListTransfersSent(ctx, identity.ID, 50)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	received, err = c.store.ListTransfersReceived(ctx, identity.ID, 50)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return sent, received, nil
}
