package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"flowrelay/pkg/bus"
	"flowrelay/pkg/channel"
	"flowrelay/pkg/channel/telegram"
	"flowrelay/pkg/config"
	"flowrelay/pkg/fault"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mymmrac/telego"
)

// Webhook replies are always HTTP 200 with the outcome in the status field.
const (
	webhookOK                 = "Ok"
	webhookInvalidClient      = "Invalid client id"
	webhookUnauthorized       = "Unauthorized access"
	webhookInvalidUpdate      = "Invalid update"
	webhookClientDeactivated  = "Access to deactivated client"
	webhookHandlerError       = "Handler error"
	webhookSecretHeader       = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBodyBytes int64 = 1 << 20
)

// webhookAdapter is a channel that can take updates pushed over HTTP.
type webhookAdapter interface {
	WebhookSecret() string
	HandleUpdate(ctx context.Context, handler channel.Handler, update telego.Update) error
}

// pathAdapter is a channel that serves its own HTTP endpoint.
type pathAdapter interface {
	http.Handler
	Path() string
}

type webhookResponse struct {
	Status string `json:"status"`
}

type clientResponse struct {
	ID       string `json:"id"`
	Active   bool   `json:"active"`
	Sessions int    `json:"sessions"`
}

type sessionsResponse struct {
	Client   string               `json:"client"`
	Sessions []config.SessionSeed `json:"sessions"`
}

type turnsResponse struct {
	Turns []bus.Event `json:"turns"`
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Post("/telegram/{client}", s.handleWebhook)

	for _, client := range s.clients.list() {
		if mounted, ok := client.Adapter.(pathAdapter); ok {
			r.Handle(mounted.Path(), mounted)
		}
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/clients", s.handleListClients)
		r.Post("/clients/{client}/activate", s.handleSetActive(true))
		r.Post("/clients/{client}/deactivate", s.handleSetActive(false))
		r.Get("/clients/{client}/sessions", s.handleSessions)
		r.Delete("/clients/{client}/sessions/{chat}", s.handleDeleteSession)
		r.Get("/turns", s.handleTurns)
	})

	return r
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	client, ok := s.clients.get(chi.URLParam(r, "client"))
	if !ok {
		s.respondWebhook(w, webhookInvalidClient)
		return
	}

	adapter, ok := client.Adapter.(webhookAdapter)
	if !ok {
		s.respondWebhook(w, webhookInvalidClient)
		return
	}

	if secret := adapter.WebhookSecret(); secret != "" && webhookToken(r) != secret {
		s.log.Warn("Rejected webhook call", "client", client.ID, "ip", r.RemoteAddr)
		s.respondWebhook(w, webhookUnauthorized)
		return
	}

	var update telego.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)).Decode(&update); err != nil {
		s.log.Debug("Failed to decode webhook update", "client", client.ID, "error", err)
		s.respondWebhook(w, webhookInvalidUpdate)
		return
	}

	err := adapter.HandleUpdate(r.Context(), client.dispatch, update)
	s.respondWebhook(w, webhookStatus(err))
}

func webhookStatus(err error) string {
	switch {
	case err == nil:
		return webhookOK
	case errors.Is(err, telegram.ErrUnsupportedUpdate):
		return webhookInvalidUpdate
	case errors.Is(err, fault.ErrClientDeactivated):
		return webhookClientDeactivated
	case fault.IsProtocol(err):
		return webhookOK
	default:
		return webhookHandlerError
	}
}

func webhookToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(webhookSecretHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Service) respondWebhook(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, webhookResponse{Status: status}, s.log)
}

func (s *Service) handleListClients(w http.ResponseWriter, _ *http.Request) {
	clients := s.clients.list()
	payload := make([]clientResponse, 0, len(clients))
	for _, client := range clients {
		payload = append(payload, clientResponse{
			ID:       client.ID,
			Active:   client.Dispatcher.IsActive(),
			Sessions: client.Dispatcher.Store().Len(),
		})
	}
	writeJSON(w, http.StatusOK, payload, s.log)
}

func (s *Service) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "client")
		if !s.clients.setActive(id, active) {
			http.Error(w, "unknown client", http.StatusNotFound)
			return
		}

		s.log.Info("Client activation changed", "client", id, "active", active)
		client, _ := s.clients.get(id)
		writeJSON(w, http.StatusOK, clientResponse{
			ID:       client.ID,
			Active:   client.Dispatcher.IsActive(),
			Sessions: client.Dispatcher.Store().Len(),
		}, s.log)
	}
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	client, ok := s.clients.get(chi.URLParam(r, "client"))
	if !ok {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sessionsResponse{
		Client:   client.ID,
		Sessions: client.Dispatcher.Store().Snapshot(),
	}, s.log)
}

// handleDeleteSession drops a chat's session so its next update launches a
// new conversation. A session in the middle of a turn answers 409.
func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	client, ok := s.clients.get(chi.URLParam(r, "client"))
	if !ok {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}

	chatID := chi.URLParam(r, "chat")
	removed, err := client.Dispatcher.Store().Delete(chatID)
	switch {
	case err != nil:
		http.Error(w, err.Error(), http.StatusConflict)
	case !removed:
		http.Error(w, "unknown session", http.StatusNotFound)
	default:
		s.log.Info("Session deleted", "client", client.ID, "chat_id", chatID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleTurns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "journal is disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	turns, err := s.journal.Recent(r.Context(), strings.TrimSpace(query.Get("client")), strings.TrimSpace(query.Get("chat_id")), limit)
	if err != nil {
		s.log.Error("Failed to read journal", "error", err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []bus.Event{}
	}

	writeJSON(w, http.StatusOK, turnsResponse{Turns: turns}, s.log)
}
