// Package httpapi exposes the notifier to the blog over HTTP webhooks.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/comment-notifier/internal/notifier"
	"github.com/shineum/comment-notifier/internal/summary"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Notifier handles comment events.
type Notifier interface {
	NewComment(ctx context.Context, ev notifier.Event) notifier.Outcome
	Mark(ctx context.Context, ev notifier.MarkEvent) notifier.Outcome
}

// Summarizer writes post summaries.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Options configures the handler. Summarizer and QueueLen may be nil.
type Options struct {
	Notifier   Notifier
	Summarizer Summarizer
	// Token, when set, must be presented as a bearer token on every
	// endpoint except the health check.
	Token    string
	QueueLen func() int
	Logger   *slog.Logger
}

type handler struct {
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler returns the webhook routes.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handler{
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   opts.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.Handle("POST /hooks/comment", h.authorize(http.HandlerFunc(h.newComment)))
	mux.Handle("POST /hooks/mark", h.authorize(http.HandlerFunc(h.mark)))
	mux.Handle("POST /summary", h.authorize(http.HandlerFunc(h.summary)))
	return mux
}

// SummaryRequest asks for the summary of one post.
type SummaryRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SummaryResponse carries a summary or the reason there is none.
type SummaryResponse struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) authorize(next http.Handler) http.Handler {
	if h.opts.Token == "" {
		return next
	}
	want := []byte(h.opts.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="comment-notifier"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.opts.QueueLen != nil {
		resp["queued"] = h.opts.QueueLen()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) newComment(w http.ResponseWriter, r *http.Request) {
	var ev notifier.Event
	if !h.decode(w, r, &ev) {
		return
	}
	out := h.opts.Notifier.NewComment(r.Context(), ev)
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) mark(w http.ResponseWriter, r *http.Request) {
	var ev notifier.MarkEvent
	if !h.decode(w, r, &ev) {
		return
	}
	out := h.opts.Notifier.Mark(r.Context(), ev)
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	if h.opts.Summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, SummaryResponse{Message: summary.ErrDisabled.Error()})
		return
	}

	var req SummaryRequest
	if !h.decode(w, r, &req) {
		return
	}

	text, err := h.opts.Summarizer.Summarize(r.Context(), req.Title, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SummaryResponse{Success: true, Summary: text})
	case errors.Is(err, summary.ErrEmptyContent):
		writeJSON(w, http.StatusBadRequest, SummaryResponse{Message: err.Error()})
	case errors.Is(err, summary.ErrDisabled):
		writeJSON(w, http.StatusServiceUnavailable, SummaryResponse{Message: err.Error()})
	default:
		h.logger.Warn("summary failed", "title", req.Title, "error", err)
		writeJSON(w, http.StatusBadGateway, SummaryResponse{Message: err.Error()})
	}
}

// decode reads a JSON body into v and validates it, answering the request
// itself on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+": failed "+fe.Tag())
			}
			err = errors.New(strings.Join(msgs, "; "))
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server serves a handler until its context ends.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// NewServer creates a Server for addr.
func NewServer(addr string, h http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Summaries can take up to two minutes.
		WriteTimeout: summary.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles requests until ctx is cancelled, then waits up to 30
// seconds for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	slog.Info("HTTP server listening", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		return s.srv.Close()
	}
	return nil
}
