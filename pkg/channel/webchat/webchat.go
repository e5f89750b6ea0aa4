package webchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"flowrelay/pkg/channel"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/fault"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const channelName = "webchat"
const writeTimeout = 5 * time.Second

// DefaultPath is where the gateway mounts the websocket endpoint.
const DefaultPath = "/ws"

// Adapter serves browser chats over websocket connections, one connection per chat.
type Adapter struct {
	cfg config.WebsocketConfig
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	handler channel.Handler
	conns   map[string]*websocket.Conn
	active  sync.WaitGroup
}

var _ channel.Adapter = (*Adapter)(nil)

func NewAdapter(cfg config.WebsocketConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		cfg:   cfg,
		log:   log.With("component", "channel.webchat"),
		now:   time.Now,
		conns: make(map[string]*websocket.Conn),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Path returns the configured endpoint path.
func (a *Adapter) Path() string {
	if path := strings.TrimSpace(a.cfg.Path); path != "" {
		return path
	}
	return DefaultPath
}

func (a *Adapter) Renderer() dispatcher.Renderer {
	return &Renderer{adapter: a}
}

// Run installs the handler used by ServeHTTP and blocks until ctx is done.
// It then closes open connections and waits for their turns to finish.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()

	a.log.Info("Webchat channel started", "path", a.Path())
	<-ctx.Done()

	a.mu.Lock()
	a.handler = nil
	for chatID, conn := range a.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(a.conns, chatID)
	}
	a.mu.Unlock()

	a.active.Wait()
	return nil
}

// ServeHTTP upgrades the request and reads chat frames until the browser
// disconnects. The chat id comes from the chat_id query parameter and is
// generated when absent.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, ok := a.begin()
	if !ok {
		http.Error(w, "webchat channel is not running", http.StatusServiceUnavailable)
		return
	}
	defer a.active.Done()

	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		chatID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.cfg.AllowedOrigins})
	if err != nil {
		a.log.Warn("Failed to accept websocket", "error", err, "chat_id", chatID)
		return
	}

	if !a.register(chatID, conn) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer a.unregister(chatID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	a.log.Info("Webchat connected", "chat_id", chatID, "ip", r.RemoteAddr)
	if err := a.write(ctx, conn, outboundFrame{Type: frameSession, ChatID: chatID}); err != nil {
		return
	}

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				a.log.Debug("Webchat closed by client", "chat_id", chatID)
			} else {
				a.log.Warn("Webchat read error", "chat_id", chatID, "error", err)
			}
			return
		}

		if frame.Type == framePing {
			_ = a.write(ctx, conn, outboundFrame{Type: framePong})
			continue
		}

		update := dispatcher.Update{
			ChatID:      chatID,
			UpdateID:    strings.TrimSpace(frame.ID),
			Time:        a.now().Unix(),
			Interaction: frame.interaction(),
			Mark:        frame.Mark,
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if err := handler(ctx, update); err != nil && !fault.IsProtocol(err) {
				_ = a.write(ctx, conn, outboundFrame{Type: frameError, Error: fault.CategoryFromError(err)})
			}
		}()
	}
}

// begin counts a connection as active while the channel is running.
func (a *Adapter) begin() (channel.Handler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler == nil {
		return nil, false
	}
	a.active.Add(1)
	return a.handler, true
}

// register replaces any older connection of the same chat. It reports false
// once the channel is shutting down.
func (a *Adapter) register(chatID string, conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler == nil {
		return false
	}
	if existing, ok := a.conns[chatID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	a.conns[chatID] = conn
	return true
}

func (a *Adapter) running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handler != nil
}

func (a *Adapter) unregister(chatID string, conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if current, ok := a.conns[chatID]; ok && current == conn {
		delete(a.conns, chatID)
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}

func (a *Adapter) conn(chatID string) (*websocket.Conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conn, ok := a.conns[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s is not connected", chatID)
	}
	return conn, nil
}

func (a *Adapter) write(ctx context.Context, conn *websocket.Conn, frame outboundFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		a.log.Debug("Webchat write failed", "type", frame.Type, "error", err)
		return err
	}
	return nil
}
