// Package server is a development backend that speaks the Persistence API
// wire format. It wires HTTP routes onto the in-memory storage, the token
// signer and the PDF text extractor so the client can be exercised end to
// end. Go's net/http package builds servers from handler functions which
// receive an http.ResponseWriter and a *http.Request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/PaperDrop/internal/api"
	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/signing"
	"github.com/dharsanguruparan/PaperDrop/internal/storage"
)

// Server hosts the HTTP handlers. Fields are explicitly referenced rather
// than embedded so each dependency stays visible at the call site.
type Server struct {
	cfg    config.ServerConfig
	store  storage.Store
	signer *signing.Signer
	logger *slog.Logger
	server *http.Server
	once   sync.Once
}

// New creates a configured server. A nil logger falls back to slog.Default.
func New(cfg config.ServerConfig, store storage.Store, signer *signing.Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		signer: signer,
		logger: logger.With("component", "server"),
	}
}

// Handler returns the full route tree with middleware applied. Tests mount
// it on an httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// HandleFunc registers path-specific handler functions on the ServeMux.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.Handle("/papers/pdf", s.requireAuth(http.HandlerFunc(s.handleParse)))
	mux.Handle("/papers", s.requireAuth(http.HandlerFunc(s.handlePapers)))
	mux.Handle("/questions", s.requireAuth(http.HandlerFunc(s.handleQuestions)))
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		// When the context is cancelled we gracefully shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("API listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Respond with JSON so clients can confirm the process is alive.
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// ParseForm reads application/x-www-form-urlencoded bodies into PostForm.
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "expecting form body")
		return
	}
	username := r.PostForm.Get("username")
	if err := s.store.Authenticate(r.Context(), username, r.PostForm.Get("password")); err != nil {
		respondError(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	role := "teacher"
	if username == "admin" {
		role = "admin"
	}
	token, err := s.signer.Sign(username, role, s.cfg.TokenTTL)
	if err != nil {
		s.logger.Error("Failed to sign token", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		papers, err := s.store.ListPapers(r.Context())
		if err != nil {
			s.logger.Error("Failed to list papers", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list papers")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Data: papers})
	case http.MethodPost:
		var meta model.PaperMeta
		if err := decodeJSON(w, r, &meta); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		meta.Title = strings.TrimSpace(meta.Title)
		if meta.Title == "" {
			respondError(w, http.StatusUnprocessableEntity, "title is required")
			return
		}
		subject, ok := model.NormalizeSubject(meta.Subject)
		if !ok {
			respondError(w, http.StatusUnprocessableEntity, "unknown subject: "+meta.Subject)
			return
		}
		meta.Subject = subject
		paper, err := s.store.CreatePaper(r.Context(), meta)
		if err != nil {
			s.logger.Error("Failed to create paper", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create paper")
			return
		}
		var user string
		if claims, ok := ClaimsFrom(r.Context()); ok {
			user = claims.Subject
		}
		s.logger.Info("Paper created", "paper_id", paper.ID, "title", paper.Title, "user", user)
		respondJSON(w, http.StatusCreated, envelope{Data: paper})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		paperID := r.URL.Query().Get("paperId")
		if paperID == "" {
			respondError(w, http.StatusBadRequest, "paperId is required")
			return
		}
		qs, err := s.store.ListQuestions(r.Context(), paperID)
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "paper not found")
			return
		}
		if err != nil {
			s.logger.Error("Failed to list questions", "paper_id", paperID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list questions")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Data: qs})
	case http.MethodPost:
		var req api.CreateQuestionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.PaperID == "" {
			respondError(w, http.StatusUnprocessableEntity, "paperId is required")
			return
		}
		items := make([]model.ParsedItem, 0, len(req.Questions))
		for _, q := range req.Questions {
			if strings.TrimSpace(q.QuestionText) == "" {
				respondError(w, http.StatusUnprocessableEntity, "questionText is required")
				return
			}
			items = append(items, q.Item())
		}
		saved, err := s.store.AddQuestions(r.Context(), req.PaperID, items)
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "paper not found")
			return
		}
		if err != nil {
			s.logger.Error("Failed to store questions", "paper_id", req.PaperID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to store questions")
			return
		}
		respondJSON(w, http.StatusCreated, envelope{Data: saved})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// envelope wraps every persistence response body.
type envelope struct {
	Data any `json:"data"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	// ResponseWriter exposes headers + status writing; once WriteHeader is
	// called we must send the body, so always set headers first.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
