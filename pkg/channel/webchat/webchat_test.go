package webchat

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/dispatcher"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []dispatcher.Update
	seen    chan struct{}
}

func (h *recordingHandler) handle(_ context.Context, update dispatcher.Update) error {
	h.mu.Lock()
	h.updates = append(h.updates, update)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return nil
}

func startAdapter(t *testing.T, handler *recordingHandler) (*Adapter, *httptest.Server) {
	t.Helper()

	adapter := NewAdapter(config.WebsocketConfig{}, nil)
	adapter.now = func() time.Time { return time.Unix(1234, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adapter.Run(ctx, handler.handle)
	}()
	require.Eventually(t, func() bool { return adapter.running() }, time.Second, 5*time.Millisecond)

	server := httptest.NewServer(adapter)
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})
	return adapter, server
}

func dial(t *testing.T, server *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?chat_id=" + chatID
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestWebchatRoundTrip(t *testing.T) {
	handler := &recordingHandler{seen: make(chan struct{}, 4)}
	adapter, server := startAdapter(t, handler)
	conn := dial(t, server, "browser-1")
	ctx := context.Background()

	var hello outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	require.Equal(t, frameSession, hello.Type)
	require.Equal(t, "browser-1", hello.ChatID)

	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameText, ID: "u1", Text: "hi"}))
	<-handler.seen

	handler.mu.Lock()
	update := handler.updates[0]
	handler.mu.Unlock()
	require.Equal(t, "browser-1", update.ChatID)
	require.Equal(t, "u1", update.UpdateID)
	require.EqualValues(t, 1234, update.Time)
	require.Equal(t, dispatcher.Text("hi"), update.Interaction)

	sent, err := adapter.Renderer().Render(ctx, "browser-1", dialog.NewMessage(
		dialog.Buttons{Context: dialog.Text{Message: "pick"}, Buttons: []dialog.Button{{Name: "A"}}},
		dialog.End{},
	))
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.EqualValues(t, 1234, sent[0].SentAt)

	var block outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &block))
	require.Equal(t, frameBlock, block.Type)
	require.Equal(t, sent[0].MessageID, block.MessageID)
	require.Equal(t, dialog.KindButtons, block.Block.Kind)
	require.Equal(t, "pick", block.Block.Text)
	require.Equal(t, []string{"A"}, block.Block.Buttons)
}

func TestWebchatCarouselReplaceFrame(t *testing.T) {
	handler := &recordingHandler{seen: make(chan struct{}, 4)}
	adapter, server := startAdapter(t, handler)
	conn := dial(t, server, "browser-2")
	ctx := context.Background()

	var hello outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &hello))

	carousel, err := dialog.NewCarousel([]dialog.Card{{Title: "one"}, {Title: "two"}})
	require.NoError(t, err)

	renderer := adapter.Renderer()
	sent, err := renderer.Render(ctx, "browser-2", dialog.NewMessage(carousel))
	require.NoError(t, err)

	var first outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.Equal(t, dialog.KindCarousel, first.Block.Kind)
	require.Equal(t, 2, first.Block.Pages)

	card, index, err := carousel.Neighbor(true)
	require.NoError(t, err)
	_, err = renderer.SwitchCarousel(ctx, "browser-2", sent[0], dispatcher.CarouselView{Carousel: carousel, Card: card, Index: index, Mark: 99})
	require.NoError(t, err)

	var replace outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &replace))
	require.Equal(t, frameReplace, replace.Type)
	require.Equal(t, sent[0].MessageID, replace.MessageID)
	require.Equal(t, "two", replace.Block.Title)
	require.Equal(t, 1, replace.Block.Page)
	require.EqualValues(t, 99, replace.Block.Mark)
}

func TestRenderToDisconnectedChatFails(t *testing.T) {
	adapter := NewAdapter(config.WebsocketConfig{Path: "/chat"}, nil)
	require.Equal(t, "/chat", adapter.Path())

	_, err := adapter.Renderer().Render(context.Background(), "nobody", dialog.TextMessage("hi"))
	require.Error(t, err)
}

func TestInboundFrameInteraction(t *testing.T) {
	require.Equal(t, dispatcher.Button(2), inboundFrame{Type: frameButton, Index: 2}.interaction())
	require.Equal(t, dispatcher.CarouselSwitch(true), inboundFrame{Type: frameCarousel, Forward: true}.interaction())
	require.Equal(t, dispatcher.InteractionUndefined, inboundFrame{Type: "sticker"}.interaction().Kind)
}

func TestRunWaitsForInflightTurns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(_ context.Context, _ dispatcher.Update) error {
		close(started)
		<-release
		return nil
	}

	adapter := NewAdapter(config.WebsocketConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adapter.Run(ctx, handler)
	}()
	require.Eventually(t, func() bool { return adapter.running() }, time.Second, 5*time.Millisecond)

	server := httptest.NewServer(adapter)
	defer server.Close()
	conn := dial(t, server, "browser-3")

	var hello outboundFrame
	require.NoError(t, wsjson.Read(context.Background(), conn, &hello))
	require.NoError(t, wsjson.Write(context.Background(), conn, inboundFrame{Type: frameText, ID: "u1", Text: "slow"}))
	<-started

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a turn was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the turn finished")
	}
	require.False(t, adapter.running())
}
