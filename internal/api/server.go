// Package api exposes the bridge over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/ledger"
	"github.com/dokzlo13/milight/internal/milight"
)

// Invoker runs bridge requests. *bridge.Controller implements it.
type Invoker interface {
	Invoke(ctx context.Context, req bridge.Request) (*bridge.Result, error)
}

// History lists recorded commands. *ledger.Ledger implements it.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	ByGroup(group, limit int) ([]*ledger.Entry, error)
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	invoker    Invoker
	history    History // nil when the ledger is disabled
	secret     []byte
	httpServer *http.Server
}

// NewServer creates a new Server. An empty secret disables authentication.
func NewServer(addr string, invoker Invoker, history History, secret string) *Server {
	s := &Server{
		addr:    addr,
		invoker: invoker,
		history: history,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.Handle("POST /groups/{group}/actions/{action}", s.authenticate(http.HandlerFunc(s.handleAction)))
	mux.Handle("GET /history", s.authenticate(http.HandlerFunc(s.handleHistory)))

	return mux
}

// Run starts the server. It blocks until the context is cancelled and
// in-flight requests have finished, or until the listener fails.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Bool("auth", s.secret != nil).Msg("Starting API server")

	// Handle graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	// ListenAndServe returns as soon as Shutdown starts; wait for in-flight requests
	<-drained
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.secret == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		_, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected API token")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	group, err := strconv.Atoi(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", milight.ErrInvalidGroup, r.PathValue("group")))
		return
	}

	steps := 1
	if v := r.URL.Query().Get("steps"); v != "" {
		// An explicit count must be positive; only an absent one defaults to 1
		if steps, err = strconv.Atoi(v); err != nil || steps < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", bridge.ErrInvalidSteps, v))
			return
		}
	}

	req, err := bridge.ParseRequest(group, r.PathValue("action"), steps)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	req.Source = "api"

	res, err := s.invoker.Invoke(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("command ledger is disabled"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	var entries []*ledger.Entry
	var err error
	if v := r.URL.Query().Get("group"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid group %q", v))
			return
		}
		g, groupErr := milight.ParseGroup(n)
		if groupErr != nil {
			writeError(w, http.StatusBadRequest, groupErr)
			return
		}
		entries, err = s.history.ByGroup(int(g), limit)
	} else {
		entries, err = s.history.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, milight.ErrUnsupportedAction),
		errors.Is(err, milight.ErrInvalidGroup),
		errors.Is(err, bridge.ErrInvalidSteps):
		return http.StatusBadRequest
	case errors.Is(err, milight.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
