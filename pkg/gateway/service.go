package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"flowrelay/pkg/backend"
	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/bus"
	"flowrelay/pkg/channel"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dedup"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/journal"
	"flowrelay/pkg/session"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	backendHealthInterval = 30 * time.Second
	shutdownGrace         = 15 * time.Second
)

type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	backend backend.Backend
	clients *clientRegistry
	bus     *bus.MessageBus
	dedup   dedup.Deduplicator
	journal *journal.Journal

	mu              sync.RWMutex
	startedAt       time.Time
	backendLastOKAt time.Time
	backendLastErr  string
	channelStates   map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Active  bool   `json:"active"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	BackendLastOKAt string                  `json:"backend_last_ok_at,omitempty"`
	BackendLastErr  string                  `json:"backend_last_error,omitempty"`
	Channels        map[string]channelState `json:"channels"`
}

// NewService builds the backend, dedup store and journal from cfg and wires
// one client per adapter.
func NewService(cfg *config.Config, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	client, err := backend.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize backend: %w", err)
	}

	seen, err := dedup.New(cfg.Dedup)
	if err != nil {
		return nil, fmt.Errorf("initialize dedup: %w", err)
	}

	var turnJournal *journal.Journal
	if cfg.Journal.Enabled {
		turnJournal, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			_ = seen.Close()
			return nil, fmt.Errorf("initialize journal: %w", err)
		}
	}

	svc, err := newService(cfg, client, adapters, log, seen, turnJournal)
	if err != nil {
		_ = seen.Close()
		if turnJournal != nil {
			_ = turnJournal.Close()
		}
		return nil, err
	}
	return svc, nil
}

func newService(cfg *config.Config, client backend.Backend, adapters []channel.Adapter, log *slog.Logger, seen dedup.Deduplicator, turnJournal *journal.Journal) (*Service, error) {
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	seeds, err := cfg.Sessions.AllSeeds()
	if err != nil {
		return nil, fmt.Errorf("load session seeds: %w", err)
	}

	messageBus := bus.NewMessageBus()
	registry := newClientRegistry()
	channelStates := make(map[string]channelState, len(adapters))

	for _, adapter := range adapters {
		store := session.NewStore(
			session.WithTTL(time.Duration(cfg.Sessions.TTLSeconds)*time.Second),
			session.WithSeeds(seeds),
			session.WithLogger(log.With("client", adapter.Name())),
		)

		opts := []dispatcher.Option{
			dispatcher.WithClientName(adapter.Name()),
			dispatcher.WithBus(messageBus),
			dispatcher.WithLogger(log),
			dispatcher.WithLaunchVariables(backendtypes.Variables(cfg.Backend.LaunchVariables)),
		}
		if seen != nil {
			opts = append(opts, dispatcher.WithDedup(seen))
		}

		if err := registry.add(&Client{
			ID:         adapter.Name(),
			Adapter:    adapter,
			Dispatcher: dispatcher.New(store, client, adapter.Renderer(), opts...),
		}); err != nil {
			return nil, err
		}
		channelStates[adapter.Name()] = channelState{Active: true}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		backend:       client,
		clients:       registry,
		bus:           messageBus,
		dedup:         seen,
		journal:       turnJournal,
		channelStates: channelStates,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkBackendHealth(ctx); err != nil {
		s.close()
		return err
	}

	// Event subscribers stop when the bus closes, after the channels drained.
	eventsCtx := context.WithoutCancel(ctx)
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		observeTurnEvents(eventsCtx, s.bus, slog.Default().With("component", "gateway.events"))
	}()
	if s.journal != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			s.journal.Run(eventsCtx, s.bus)
		}()
	}

	reapInterval := time.Duration(s.cfg.Sessions.ReapIntervalSeconds) * time.Second
	for _, client := range s.clients.list() {
		client.reaper = client.Dispatcher.Store().StartReaper(ctx, reapInterval)
	}

	var server sync.WaitGroup
	serverErrors := make(chan error, 1)
	server.Add(1)
	go func() {
		defer server.Done()
		s.runServer(ctx, serverErrors)
	}()

	if _, ok := s.backend.(backend.HealthChecker); ok {
		go func() {
			ticker := time.NewTicker(backendHealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = s.checkBackendHealth(ctx)
				}
			}
		}()
	}

	var channels sync.WaitGroup
	errCh := make(chan error, len(s.clients.list()))
	for _, client := range s.clients.list() {
		client := client
		s.setChannelRunning(client.ID, true, nil)

		channels.Add(1)
		go func() {
			defer channels.Done()
			err := client.Adapter.Run(ctx, client.dispatch)
			s.setChannelRunning(client.ID, false, err)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", client.ID, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
	}

	cancel()
	if !waitTimeout(shutdownGrace, &channels, &server) {
		s.log.Warn("Shutdown grace period elapsed with turns still running", "grace", shutdownGrace)
	}
	s.bus.Close()
	background.Wait()
	s.close()
	return runErr
}

// waitTimeout waits for every group and reports whether they finished within d.
func waitTimeout(d time.Duration, groups ...*sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		for _, group := range groups {
			group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// close releases resources owned by the service once channels have stopped.
func (s *Service) close() {
	s.clients.stopReapers()
	s.bus.Close()
	if s.dedup != nil {
		if err := s.dedup.Close(); err != nil {
			s.log.Debug("Failed to close dedup store", "error", err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Debug("Failed to close journal", "error", err)
		}
	}
}

func (s *Service) runServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start gateway server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSON(w, statusCode, s.currentStatus(status), s.log)
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		if client, ok := s.clients.get(name); ok {
			state.Active = client.Dispatcher.IsActive()
		}
		channels[name] = state
	}

	backendLastOK := ""
	if !s.backendLastOKAt.IsZero() {
		backendLastOK = s.backendLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		BackendLastOKAt: backendLastOK,
		BackendLastErr:  s.backendLastErr,
		Channels:        channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	if s.backendLastOKAt.IsZero() {
		return false
	}

	if s.backendLastErr != "" {
		return false
	}

	return true
}

// checkBackendHealth asks backends that support it for their health. Others count as healthy.
func (s *Service) checkBackendHealth(ctx context.Context) error {
	if checker, ok := s.backend.(backend.HealthChecker); ok {
		if err := checker.Health(ctx); err != nil {
			s.mu.Lock()
			s.backendLastErr = err.Error()
			s.mu.Unlock()
			return fmt.Errorf("backend health check failed: %w", err)
		}
	}

	s.mu.Lock()
	s.backendLastErr = ""
	s.backendLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelRunning(name string, running bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.channelStates[name]
	state.Running = running
	state.Error = errorString(err)
	s.channelStates[name] = state
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write response", "error", err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
