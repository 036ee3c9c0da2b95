// Package web serves deposit records and the swap report stream over HTTP.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/engine"
	"github.com/vadiminshakov/yieldcron/internal/events"
)

const (
	reportPollInterval = 3 * time.Second
	heartbeatInterval  = 20 * time.Second
)

type recordReader interface {
	Records(ctx context.Context) ([]*domain.DepositRecord, error)
	Record(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error)
	Preview(ctx context.Context, id domain.Identity) (engine.Yield, error)
}

type reportReader interface {
	EventsAfter(index uint64) ([]domain.SwapReportRecord, error)
}

// Server exposes records as JSON and committed swap reports as an SSE stream.
type Server struct {
	Addr        string
	Records     recordReader
	Reports     reportReader
	Broadcaster *events.ReportBroadcaster

	l         *zap.Logger
	heartbeat time.Duration
	poll      time.Duration
}

// NewServer creates a new web server instance. broadcaster may be nil, in which case the
// stream only polls the report log.
func NewServer(addr string, records recordReader, reports reportReader, broadcaster *events.ReportBroadcaster, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		Addr:        addr,
		Records:     records,
		Reports:     reports,
		Broadcaster: broadcaster,
		l:           l,
		heartbeat:   heartbeatInterval,
		poll:        reportPollInterval,
	}
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /records", s.handleRecords)
	mux.HandleFunc("GET /records/{id}", s.handleRecord)
	mux.HandleFunc("GET /records/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /reports/stream", s.handleReportStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme server", zap.Error(err))
		}
	}()

	s.l.Info("https server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.Records.Records(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.DepositRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseIdentity(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := s.Records.Record(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseIdentity(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	y, err := s.Records.Preview(r.Context(), id)
	if err != nil && !errors.Is(err, domain.ErrNoYieldToRedeem) {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, y)
}

func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	if s.Reports == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "report log not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var live chan domain.SwapReportRecord
	if s.Broadcaster != nil {
		live = s.Broadcaster.Subscribe()
		defer s.Broadcaster.Unsubscribe(live)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.poll)
	defer pollTicker.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	send := func(rec domain.SwapReportRecord) error {
		if rec.Index <= lastIndex {
			return nil
		}
		payload, err := json.Marshal(rec.Report)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "id: %d\n", rec.Index)
		fmt.Fprintf(w, "event: swap_report\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		lastIndex = rec.Index
		return nil
	}
	catchUp := func() error {
		records, err := s.Reports.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := send(rec); err != nil {
				return err
			}
		}
		return nil
	}

	if err := catchUp(); err != nil {
		http.Error(w, "failed to load reports", http.StatusInternalServerError)
		s.l.Error("report stream initial load", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: ready\n")
	fmt.Fprintf(w, "data: {\"last_index\":%d}\n\n", lastIndex)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case rec, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			// a gap means the subscriber dropped reports; the log has them
			if rec.Index > lastIndex+1 {
				if err := catchUp(); err != nil {
					s.l.Warn("report stream catch-up", zap.Error(err))
				}
			}
			if err := send(rec); err != nil {
				s.l.Warn("report stream send", zap.Error(err))
			}
		case <-pollTicker.C:
			if err := catchUp(); err != nil {
				s.l.Warn("report stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrRecordNotFound) {
		status = http.StatusNotFound
	} else {
		s.l.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": domain.ErrorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
// The header is preferred.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
