package models

import "time"

// Identity is the verified {id, email, username} tuple produced by the
// credential verifier. It is immutable for the lifetime of a request or
// connection.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// File is a client-encrypted blob. The server never sees plaintext; it only
// resolves ownership and streams the ciphertext back out.
type File struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"-"`
	OriginalName  string    `json:"originalName"`
	EncryptedName string    `json:"-"`
	EncryptedPath string    `json:"-"`
	Size          int64     `json:"size"`
	MimeType      string    `json:"mimeType"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// Transfer status lifecycle. Status only moves forward: pending → received
// → decrypted, where received may be skipped.
const (
	StatusPending   = "pending"
	StatusReceived  = "received"
	StatusDecrypted = "decrypted"
)

type Transfer struct {
	ID          string     `json:"id"`
	FileID      string     `json:"fileId"`
	SenderID    string     `json:"senderId"`
	ReceiverID  string     `json:"receiverId"`
	Status      string     `json:"status"`
	SentAt      time.Time  `json:"sentAt"`
	ReceivedAt  *time.Time `json:"receivedAt,omitempty"`
	DecryptedAt *time.Time `json:"decryptedAt,omitempty"`

	// Denormalized summaries for API responses and push payloads.
	File     *FileSummary `json:"file,omitempty"`
	Sender   *UserSummary `json:"sender,omitempty"`
	Receiver *UserSummary `json:"receiver,omitempty"`
}

type FileSummary struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PresenceEntry records one user's live connection. At most one entry exists
// per user; a second login replaces the first.
type PresenceEntry struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"-"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"-"`
}
