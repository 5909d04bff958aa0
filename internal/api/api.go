package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"privora/internal/auth"
	"privora/internal/common"
	"privora/internal/config"
	"privora/internal/mail"
	"privora/internal/models"
	"privora/internal/presence"
	"privora/internal/storage"
	"privora/internal/transfer"
	"privora/internal/ws"
)

type ctxKey int

const identityKey ctxKey = 0

type Server struct {
	config      config.Config
	store       *storage.Store
	verifier    *auth.Verifier
	coordinator *transfer.Coordinator
	registry    *presence.Registry
	gateway     *ws.Gateway
	mailer      *mail.Mailer
	localIP     string
}

func NewServer(
	cfg config.Config,
	store *storage.Store,
	verifier *auth.Verifier,
	coordinator *transfer.Coordinator,
	registry *presence.Registry,
	gateway *ws.Gateway,
	mailer *mail.Mailer,
	localIP string,
) *Server {
	return &Server{
		config:      cfg,
		store:       store,
		verifier:    verifier,
		coordinator: coordinator,
		registry:    registry,
		gateway:     gateway,
		mailer:      mailer,
		localIP:     localIP,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/server-info", s.handleServerInfo).Methods("GET")

	// Auth (no middleware)
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")

	// App (auth required)
	r.HandleFunc("/api/users", s.requireAuth(s.handleListUsers)).Methods("GET")
	r.HandleFunc("/api/users/online", s.requireAuth(s.handleOnlineUsers)).Methods("GET")
	r.HandleFunc("/api/users/{userId}", s.requireAuth(s.handleGetUser)).Methods("GET")

	r.HandleFunc("/api/files/upload", s.requireAuth(s.handleUpload)).Methods("POST")
	r.HandleFunc("/api/files", s.requireAuth(s.handleListFiles)).Methods("GET")
	r.HandleFunc("/api/files/download/{fileId}", s.requireAuth(s.handleDownload)).Methods("GET")
	r.HandleFunc("/api/files/{fileId}", s.requireAuth(s.handleDeleteFile)).Methods("DELETE")

	r.HandleFunc("/api/transfers", s.requireAuth(s.handleCreateTransfer)).Methods("POST")
	r.HandleFunc("/api/transfers/sent", s.requireAuth(s.handleSentTransfers)).Methods("GET")
	r.HandleFunc("/api/transfers/received", s.requireAuth(s.handleReceivedTransfers)).Methods("GET")
	r.HandleFunc("/api/transfers/history", s.requireAuth(s.handleTransferHistory)).Methods("GET")
	r.HandleFunc("/api/transfers/{transferId}/status", s.requireAuth(s.handleUpdateTransferStatus)).Methods("PATCH")

	r.HandleFunc("/ws", s.gateway.HandleWS)

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.ServerPort)
	logrus.WithField("addr", addr).Info("API listening")
	return http.ListenAndServe(addr, s.Router())
}

// ---- Middleware ----

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	}
}

func identityFrom(r *http.Request) *models.Identity {
	identity, _ := r.Context().Value(identityKey).(*models.Identity)
	return identity
}

// ---- Info Handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"serverIP":   s.localIP,
		"backendURL": fmt.Sprintf("http://%s:%d", s.localIP, s.config.ServerPort),
		"socketURL":  fmt.Sprintf("ws://%s:%d/ws", s.localIP, s.config.ServerPort),
	})
}

// ---- Auth Handlers ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if body.Username == "" || body.Email == "" || body.Password == "" {
		jsonError(w, "Username, email and password required", http.StatusBadRequest)
		return
	}

	user, err := s.store.RegisterUser(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			jsonError(w, "Username or email already registered", http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}

	token, err := s.verifier.IssueToken(user, s.config.TokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.mailer.Enabled() {
		go func() {
			if err := s.mailer.SendWelcomeEmail(user.Email, user.Username); err != nil {
				logrus.WithField("email", user.Email).WithError(err).Warn("Welcome email failed")
			}
		}()
	}

	logrus.WithField("username", user.Username).Info("New registration")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"token": token, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.store.AuthenticateUser(r.Context(), body.Email, body.Password)
	if err != nil {
		jsonError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.verifier.IssueToken(user, s.config.TokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	logrus.WithField("username", user.Username).Info("Logged in")
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": user})
}

// ---- User Handlers ----

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context(), identityFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	self := identityFrom(r).ID
	online := make([]models.PresenceEntry, 0)
	for _, e := range s.registry.Snapshot() {
		if e.UserID != self {
			online = append(online, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"onlineUsers": online})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// ---- File Handlers ----

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	// ParseMultipartForm's argument only bounds in-memory buffering; the
	// request body itself is capped here.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
		jsonError(w, "File upload error", http.StatusBadRequest)
		return
	}

	blob, _, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer blob.Close()

	originalName := r.FormValue("originalName")
	mimeType := r.FormValue("mimeType")
	if originalName == "" || mimeType == "" {
		jsonError(w, "Missing file metadata", http.StatusBadRequest)
		return
	}

	// Ciphertext is stored under an opaque name; the original name lives
	// only in the database.
	encryptedName := uuid.NewString() + filepath.Ext(originalName)
	path := filepath.Join(s.config.UploadDir, encryptedName)

	dst, err := os.Create(path)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
		return
	}
	size, err := io.Copy(dst, blob)
	dst.Close()
	if err != nil {
		os.Remove(path)
		writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
		return
	}

	file := &models.File{
		ID:            uuid.NewString(),
		OwnerID:       identity.ID,
		OriginalName:  originalName,
		EncryptedName: encryptedName,
		EncryptedPath: path,
		Size:          size,
		MimeType:      mimeType,
		UploadedAt:    time.Now(),
	}
	if err := s.store.CreateFile(r.Context(), file); err != nil {
		os.Remove(path)
		writeError(w, fmt.Errorf("%w: %v", common.ErrInternal, err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"fileId": file.ID,
		"owner":  identity.Username,
		"size":   size,
	}).Info("File uploaded")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"file": file})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFilesByOwner(r.Context(), identityFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []*models.File{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	file, err := s.store.GetFileByID(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		writeError(w, err)
		return
	}

	// Owner or party to a transfer of this file.
	if file.OwnerID != identity.ID {
		party, err := s.store.HasTransferParty(r.Context(), file.ID, identity.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !party {
			writeError(w, common.ErrForbidden)
			return
		}
	}

	if _, err := os.Stat(file.EncryptedPath); err != nil {
		jsonError(w, "File not found on server", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.EncryptedName))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, file.EncryptedPath)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	file, err := s.store.GetFileByID(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		writeError(w, err)
		return
	}
	if file.OwnerID != identity.ID {
		writeError(w, common.ErrForbidden)
		return
	}

	if err := os.Remove(file.EncryptedPath); err != nil && !os.IsNotExist(err) {
		logrus.WithField("path", file.EncryptedPath).WithError(err).Warn("Blob removal failed")
	}
	if err := s.store.DeleteFile(r.Context(), file.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted"})
}

// ---- Transfer Handlers ----

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileID     string `json:"fileId"`
		ReceiverID string `json:"receiverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if body.FileID == "" || body.ReceiverID == "" {
		jsonError(w, "File ID and receiver ID are required", http.StatusBadRequest)
		return
	}

	t, err := s.coordinator.Create(r.Context(), identityFrom(r), body.FileID, body.ReceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"transfer": t})
}

func (s *Server) handleSentTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.coordinator.ListSent(r.Context(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if transfers == nil {
		transfers = []*models.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

func (s *Server) handleReceivedTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.coordinator.ListReceived(r.Context(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if transfers == nil {
		transfers = []*models.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

func (s *Server) handleTransferHistory(w http.ResponseWriter, r *http.Request) {
	sent, received, err := s.coordinator.History(r.Context(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if sent == nil {
		sent = []*models.Transfer{}
	}
	if received == nil {
		received = []*models.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":     sent,
		"received": received,
		"total":    len(sent) + len(received),
	})
}

func (s *Server) handleUpdateTransferStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	t, err := s.coordinator.UpdateStatus(r.Context(), identityFrom(r), mux.Vars(r)["transferId"], body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfer": t})
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps the shared error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrAuthFailed),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrInvalidToken):
		jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, common.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, common.ErrForbidden):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, common.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		logrus.WithError(err).Error("Internal error")
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}
