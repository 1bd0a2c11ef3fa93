// Package server exposes the agent to the browser extension over local HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/agent"
	"github.com/vincentbai/regrets-agent/internal/database"
	"github.com/vincentbai/regrets-agent/internal/models"
	"github.com/vincentbai/regrets-agent/internal/recorder"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	recorder   *recorder.Recorder
	controller *agent.Controller
	db         *database.Database
	logger     zerolog.Logger
	address    string
	server     *http.Server
	now        func() time.Time
}

type Option func(*Server)

// WithClock overrides the clock used to stamp reported regrets.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func NewServer(rec *recorder.Recorder, controller *agent.Controller, db *database.Database, address string, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		recorder:   rec,
		controller: controller,
		db:         db,
		logger:     logger,
		address:    address,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EventBatch is the body of POST /events.
type EventBatch struct {
	Envelopes []models.Envelope `json:"envelopes"`
}

type contentRequest struct {
	Content     string              `json:"content"`
	ContentHash string              `json:"contentHash"`
	Response    models.HTTPResponse `json:"response"`
}

type logRequest struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

type dwellRequest struct {
	TabID    int   `json:"tabId"`
	ActiveMs int64 `json:"activeMs"`
}

type privateRequest struct {
	Private bool `json:"private"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch EventBatch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		s.logger.Warn().Err(err).Msg("Rejected event batch")
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	// Reject the whole batch before any of it enters the pipeline.
	for _, env := range batch.Envelopes {
		if _, err := models.NewEnvelope(env.Payload, s.now().UTC()); err != nil {
			s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Rejected record")
			http.Error(w, "Invalid record", http.StatusBadRequest)
			return
		}
	}
	for _, env := range batch.Envelopes {
		if err := s.recorder.SaveRecord(request.Context(), env.Payload); err != nil {
			s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Rejected record")
			http.Error(w, "Invalid record", http.StatusBadRequest)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContent(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body contentRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if err := s.recorder.SaveContent(request.Context(), []byte(body.Content), body.ContentHash, body.Response); err != nil {
		http.Error(w, "Invalid content", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLog(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body logRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	ctx := request.Context()
	switch body.Level {
	case "debug":
		s.recorder.LogDebug(ctx, body.Msg)
	case "info", "":
		s.recorder.LogInfo(ctx, body.Msg)
	case "warn":
		s.recorder.LogWarn(ctx, body.Msg)
	case "error":
		s.recorder.LogError(ctx, body.Msg)
	case "critical":
		s.recorder.LogCritical(ctx, body.Msg)
	default:
		http.Error(w, "Unknown log level", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDwell credits active time to a tab on POST and forgets the tab on
// DELETE.
func (s *Server) handleDwell(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost && request.Method != http.MethodDelete {
		http.Error(w, "POST or DELETE only", http.StatusMethodNotAllowed)
		return
	}
	var body dwellRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil || body.TabID <= models.NoTab {
		http.Error(w, "Invalid dwell update", http.StatusBadRequest)
		return
	}
	monitor := s.recorder.DwellTimeMonitor()
	if request.Method == http.MethodDelete {
		monitor.Forget(body.TabID)
	} else {
		monitor.Credit(body.TabID, time.Duration(body.ActiveMs)*time.Millisecond)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegrets(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var regret models.ReportedRegret
	if err := json.NewDecoder(request.Body).Decode(&regret); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if err := regret.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := request.Context()
	installation, err := s.db.ExtensionInstallationUUID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Database error")
		http.Error(w, "Failed to store report", http.StatusInternalServerError)
		return
	}
	shared := models.AnnotatedSharedData{
		ReportedRegret: &regret,
		EventMetadata:  models.NewSharedDataEventMetadata(installation, uuid.NewString(), s.now().UTC()),
	}
	if err := s.db.InsertSharedData(ctx, shared); err != nil {
		s.logger.Error().Err(err).Msg("Database error")
		http.Error(w, "Failed to store report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, shared.EventMetadata)
}

// handleRecords exports stored telemetry records, optionally filtered by
// the type and limit query parameters.
func (s *Server) handleRecords(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	filter := database.RecordFilter{Type: models.Type(request.URL.Query().Get("type"))}
	if limit := request.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	records, err := s.db.Records(request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Database error")
		http.Error(w, "Failed to read records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []database.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

func (s *Server) handleProcess(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	res := s.controller.ProcessNow(request.Context())
	writeJSON(w, http.StatusOK, map[string]int{
		"closed":    res.Closed,
		"orphaned":  res.Orphaned,
		"malformed": res.Malformed,
	})
}

func (s *Server) handlePrivate(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body privateRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	s.recorder.SetPrivateBrowsing(body.Private)
	w.WriteHeader(http.StatusNoContent)
}

// postOnly adapts an action without a request body into a handler.
func postOnly(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		action()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/content", s.handleContent)
	mux.HandleFunc("/log", s.handleLog)
	mux.HandleFunc("/dwell", s.handleDwell)
	mux.HandleFunc("/regrets", s.handleRegrets)
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/process", s.handleProcess)
	mux.HandleFunc("/private", s.handlePrivate)
	mux.Handle("/pause", postOnly(s.recorder.Pause))
	mux.Handle("/resume", postOnly(s.recorder.Resume))
	mux.Handle("/reset", postOnly(s.controller.Reset))
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", listener.Addr().String()).Msg("Regrets agent listening")
		errs <- s.server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server...")
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}
	s.logger.Info().Msg("Server exited")
	return nil
}
