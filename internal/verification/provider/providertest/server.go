// Package providertest runs an in-process fake of the identity provider's
// verification-session API for tests.
package providertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kinship/internal/verification/models"
)

// Server is a fake provider. Sessions live in memory; tests drive status
// transitions with SetStatus.
type Server struct {
	*httptest.Server

	APIKey string

	mu       sync.Mutex
	sessions map[string]*session
	failNext *failure

	creates atomic.Int32
	gets    atomic.Int32
}

type session struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	Status    string            `json:"status"`
	URL       string            `json:"url"`
	ReturnURL string            `json:"-"`
	Metadata  map[string]string `json:"metadata"`
}

type failure struct {
	status  int
	message string
}

// New starts a fake provider accepting apiKey as its bearer secret.
func New(apiKey string) *Server {
	s := &Server{APIKey: apiKey, sessions: make(map[string]*session)}
	r := chi.NewRouter()
	r.Post("/v1/identity/verification_sessions", s.handleCreate)
	r.Get("/v1/identity/verification_sessions/{id}", s.handleGet)
	s.Server = httptest.NewServer(r)
	return s
}

// SetStatus moves a session to status.
func (s *Server) SetStatus(id string, status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Status = string(status)
	}
}

// AddSession seeds a session owned by ownerUserID.
func (s *Server) AddSession(id, ownerUserID string, status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{
		ID:       id,
		Object:   "identity.verification_session",
		Status:   string(status),
		URL:      s.URL + "/start/" + id,
		Metadata: map[string]string{models.MetadataUserID: ownerUserID},
	}
}

// FailNext makes the next call answer with status and a provider error body.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = &failure{status: status, message: message}
}

// CreateCalls returns how many create requests reached the server.
func (s *Server) CreateCalls() int { return int(s.creates.Load()) }

// GetCalls returns how many get requests reached the server.
func (s *Server) GetCalls() int { return int(s.gets.Load()) }

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.creates.Add(1)
	if !s.authorized(w, r) || s.injectedFailure(w) {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeProviderError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	if r.PostForm.Get("type") != "document" {
		writeProviderError(w, http.StatusBadRequest, "type must be document")
		return
	}
	owner := r.PostForm.Get("metadata[" + models.MetadataUserID + "]")

	id := "vs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sess := &session{
		ID:        id,
		Object:    "identity.verification_session",
		Status:    string(models.SessionStatusRequiresInput),
		URL:       fmt.Sprintf("%s/start/%s", s.URL, id),
		ReturnURL: r.PostForm.Get("return_url"),
		Metadata:  map[string]string{models.MetadataUserID: owner},
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.gets.Add(1)
	if !s.authorized(w, r) || s.injectedFailure(w) {
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	var snapshot session
	if ok {
		snapshot = *sess
	}
	s.mu.Unlock()
	if !ok {
		writeProviderError(w, http.StatusNotFound, "No such verification session: '"+id+"'")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+s.APIKey {
		writeProviderError(w, http.StatusUnauthorized, "Invalid API Key provided")
		return false
	}
	return true
}

func (s *Server) injectedFailure(w http.ResponseWriter) bool {
	s.mu.Lock()
	f := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if f == nil {
		return false
	}
	writeProviderError(w, f.status, f.message)
	return true
}

func writeProviderError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    "invalid_request_error",
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
