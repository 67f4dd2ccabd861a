// Package api serves the catalog and the responder over HTTP. It stands in
// for the chat platform: messages come in as JSON or slash-command form
// posts, and catalog uploads replace the catalog file.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/pbaille/dramabot/internal/catalog"
	"github.com/pbaille/dramabot/internal/catalogfile"
	"github.com/pbaille/dramabot/internal/classifier"
	"github.com/pbaille/dramabot/internal/domain"
	"github.com/pbaille/dramabot/internal/fetcher"
	"github.com/pbaille/dramabot/internal/logging"
	"github.com/pbaille/dramabot/internal/store"
)

// CatalogFileName is the only upload name accepted when one is given
const CatalogFileName = "catalog.csv"

const defaultMaxUpload = 5 * 1024 * 1024

// Options configures a Server
type Options struct {
	// AdminToken guards catalog updates; empty leaves them open
	AdminToken string
	// RatePerMinute and RateBurst limit requests per client, 0 disables
	RatePerMinute int
	RateBurst     int
	// TrustForwardedFor keys the rate limit on X-Forwarded-For. Enable it only
	// behind a reverse proxy that sets the header.
	TrustForwardedFor bool
	// Source resolves POST /catalog/fetch sources; nil disables the route
	Source fetcher.Source
	// MaxUpload caps PUT /catalog bodies
	MaxUpload int64
	Logger    *zerolog.Logger
}

// Server handles HTTP requests for the dramabot API
type Server struct {
	sync       *catalog.Synchronizer
	responder  *classifier.Responder
	store      *store.Store
	source     fetcher.Source
	adminToken string
	maxUpload  int64
	limiter    *rateLimiter
	logger     *zerolog.Logger
	now        func() time.Time
}

// New creates a new API server
func New(sync *catalog.Synchronizer, responder *classifier.Responder, st *store.Store, opts Options) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = defaultMaxUpload
	}
	return &Server{
		sync:       sync,
		responder:  responder,
		store:      st,
		source:     opts.Source,
		adminToken: opts.AdminToken,
		maxUpload:  opts.MaxUpload,
		limiter:    newRateLimiter(opts.RatePerMinute, opts.RateBurst, opts.TrustForwardedFor),
		logger:     logging.OrNop(opts.Logger),
		now:        time.Now,
	}
}

// Handler returns the routed handler with its middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Messages
	mux.HandleFunc("POST /messages", s.message)

	// Catalog
	mux.HandleFunc("GET /catalog", s.exportCatalog)
	mux.HandleFunc("GET /catalog/entries", s.listEntries)
	mux.HandleFunc("GET /catalog/stats", s.stats)
	mux.Handle("PUT /catalog", s.requireAdmin(http.HandlerFunc(s.uploadCatalog)))
	mux.Handle("POST /catalog/fetch", s.requireAdmin(http.HandlerFunc(s.fetchCatalog)))
	mux.Handle("POST /catalog/reload", s.requireAdmin(http.HandlerFunc(s.reloadCatalog)))

	// Home and health check
	mux.HandleFunc("GET /{$}", s.home)
	mux.HandleFunc("GET /health", s.health)

	return chain(mux,
		withRequestID(s.logger),
		withLogging,
		withRecovery,
		s.limiter.middleware,
		withCORS,
	)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, ":wave: Ciao, benvenut* a casa del* dramabot! (Last updated: %s)\n",
		s.now().Format("2006-01-02 15:04"))
}

// MessageRequest is the JSON body of POST /messages
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse is the JSON answer to a MessageRequest
type MessageResponse struct {
	Text       string            `json:"text"`
	Visibility domain.Visibility `json:"visibility"`
	Icon       string            `json:"icon,omitempty"`
}

// SlashResponse is the answer to a slash-command form post
type SlashResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
	IconEmoji    string `json:"icon_emoji,omitempty"`
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		reply := s.responder.Respond(cleanMessageText(r.PostForm.Get("text")))
		log.Debug().Str("user", r.PostForm.Get("user_name")).Msg("slash command answered")
		writeJSON(w, http.StatusOK, SlashResponse{
			ResponseType: responseType(reply.Visibility),
			Text:         reply.Text,
			IconEmoji:    reply.Icon,
		})
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply := s.responder.Respond(cleanMessageText(req.Text))
	writeJSON(w, http.StatusOK, MessageResponse{
		Text:       reply.Text,
		Visibility: reply.Visibility,
		Icon:       reply.Icon,
	})
}

func isForm(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

func responseType(v domain.Visibility) string {
	if v == domain.VisibilityPublic {
		return "in_channel"
	}
	return "ephemeral"
}

var mentionToken = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

// cleanMessageText drops user mention tokens and decodes HTML entities.
// Spacing is kept as is since some keywords start with a blank; a message
// with nothing but blanks left is treated as absent.
func cleanMessageText(text string) string {
	text = html.UnescapeString(mentionToken.ReplaceAllString(text, ""))
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

func (s *Server) exportCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	content, failed := catalogfile.Encode(entries)
	if len(failed) > 0 {
		logging.FromContext(r.Context()).Warn().Int("rows", len(failed)).Msg("catalog rows left out of export")
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+CatalogFileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.CatalogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByType()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"by_type": counts,
		"total":   total,
	})
}

// SyncResponse reports a catalog update or reload
type SyncResponse struct {
	OK         bool   `json:"ok"`
	Path       string `json:"path,omitempty"`
	Imported   int    `json:"imported"`
	Skipped    int    `json:"skipped"`
	StoreCount int    `json:"store_count"`
	Written    int    `json:"written"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) uploadCatalog(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("filename"); name != "" && name != CatalogFileName {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("only %s can be uploaded", CatalogFileName))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "catalog too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.sync.UpdateFromExternalSource(raw)
	s.writeSync(w, r, res, err)
}

// FetchRequest is the body of POST /catalog/fetch
type FetchRequest struct {
	Source string `json:"source"`
}

func (s *Server) fetchCatalog(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusNotImplemented, "remote sources are not configured")
		return
	}

	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if !fetcher.IsURL(req.Source) && !fetcher.IsObject(req.Source) {
		writeError(w, http.StatusBadRequest, "source must be an http(s) URL or an s3:// reference")
		return
	}

	raw, err := s.source.Fetch(r.Context(), req.Source)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("source", req.Source).Msg("catalog download failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	res, err := s.sync.UpdateFromExternalSource(raw)
	s.writeSync(w, r, res, err)
}

func (s *Server) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.InitializeFromFile()
	s.writeSync(w, r, res, err)
}

func (s *Server) writeSync(w http.ResponseWriter, r *http.Request, res *catalog.InitResult, err error) {
	resp := SyncResponse{}
	if res != nil {
		resp.OK = res.OK
		if imp := res.Import; imp != nil {
			resp.Path = imp.Path
			resp.Imported = len(imp.Imported)
			resp.Skipped = len(imp.Skipped)
			resp.StoreCount = imp.StoreCount
			resp.Warning = imp.Warning
		}
		if exp := res.Export; exp != nil {
			resp.Written = exp.Written
		}
	}

	status := http.StatusOK
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		status = syncStatus(err)
		logging.FromContext(r.Context()).Error().Err(err).Msg("catalog synchronization failed")
	}
	writeJSON(w, status, resp)
}

func syncStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrPartialWrite):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// requireAdmin checks the admin token, from a bearer token or X-Admin-Token
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if auth := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			logging.FromContext(r.Context()).Warn().Str("path", r.URL.Path).Msg("catalog update refused")
			writeError(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
