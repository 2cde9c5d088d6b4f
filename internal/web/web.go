package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tailortalk/internal/agent"
	"tailortalk/internal/auth"
	appLog "tailortalk/internal/log"
)

const maxBodyBytes = 64 << 10

// TurnHandler answers one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn agent.ConversationTurn) string
}

// Gate decides whether a user may talk to the assistant.
type Gate interface {
	IsAuthenticated(user string) bool
}

// LoginFlow is the browser OAuth flow. It is nil for backends that need no
// login.
type LoginFlow interface {
	LoginURL() (string, string)
	Exchange(ctx context.Context, code, state string) (auth.Identity, error)
	Logout(user string) error
}

// Options wires a Server.
type Options struct {
	Agent TurnHandler
	Gate  Gate
	Login LoginFlow

	ProductName string
	// FrontendURL receives the browser after a successful login.
	FrontendURL string
	CORSOrigins []string

	// Metrics, if set, is served on /metrics.
	Metrics http.Handler
}

// Server exposes the assistant over HTTP.
type Server struct {
	opts   Options
	router chi.Router
}

func NewServer(opts Options) *Server {
	if opts.ProductName == "" {
		opts.ProductName = "TailorTalk"
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")

	s := &Server{opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/login", s.handleLogin)
	r.Get("/oauth2callback", s.handleOAuthCallback)
	r.Post("/agent", s.handleAgent)
	r.Post("/logout", s.handleLogout)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	return r
}

// requestLogger logs one line per request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			appLog.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.opts.ProductName + " API is live"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleLogin(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Login == nil {
		writeError(w, http.StatusInternalServerError, "Failed to create login URL: login is not enabled for this calendar backend")
		return
	}
	loginURL, _ := s.opts.Login.LoginURL()
	writeJSON(w, http.StatusOK, map[string]string{"login_url": loginURL})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}
	if s.opts.Login == nil {
		writeError(w, http.StatusInternalServerError, "OAuth error: login is not enabled for this calendar backend")
		return
	}

	id, err := s.opts.Login.Exchange(r.Context(), code, q.Get("state"))
	if err != nil {
		appLog.Error("oauth callback failed", err)
		writeError(w, http.StatusUnauthorized, "OAuth error: "+err.Error())
		return
	}

	params := url.Values{}
	params.Set("email", id.Email)
	params.Set("name", id.Name)
	http.Redirect(w, r, s.opts.FrontendURL+"/?"+params.Encode(), http.StatusFound)
}

type agentRequest struct {
	UserInput string `json:"user_input"`
	Email     string `json:"email"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !s.opts.Gate.IsAuthenticated(req.Email) {
		writeError(w, http.StatusForbidden, "Login required.")
		return
	}

	reply := s.opts.Agent.HandleTurn(r.Context(), agent.ConversationTurn{
		UserInput:    req.UserInput,
		UserIdentity: req.Email,
	})
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.Login != nil && strings.TrimSpace(req.Email) != "" {
		if err := s.opts.Login.Logout(req.Email); err != nil {
			appLog.Error("logout failed", err, "user", req.Email)
			writeError(w, http.StatusInternalServerError, "Logout error: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Logged out successfully."})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// writeError uses the {"detail": ...} shape existing clients already parse.
func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Detail string `json:"detail"`
	}
	writeJSON(w, status, errResp{Detail: msg})
}

// Serve runs the HTTP server on listen until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}
