package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/session"

	"github.com/mymmrac/telego"
)

type fakeBot struct {
	mu sync.Mutex

	nextID   int
	date     int64
	texts    []*telego.SendMessageParams
	photos   []*telego.SendPhotoParams
	edits    []*telego.EditMessageTextParams
	media    []*telego.EditMessageMediaParams
	answered []string
	typing   int
	sendErr  error
	updates  chan telego.Update
}

func (f *fakeBot) message(chatID int64) *telego.Message {
	f.nextID++
	return &telego.Message{MessageID: f.nextID, Date: f.date, Chat: telego.Chat{ID: chatID}}
}

func (f *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.texts = append(f.texts, params)
	return f.message(params.ChatID.ID), nil
}

func (f *fakeBot) SendPhoto(_ context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, params)
	return f.message(params.ChatID.ID), nil
}

func (f *fakeBot) EditMessageText(_ context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, params)
	return nil, nil
}

func (f *fakeBot) EditMessageMedia(_ context.Context, params *telego.EditMessageMediaParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, params)
	return nil, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *telego.AnswerCallbackQueryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, params.CallbackQueryID)
	return nil
}

func (f *fakeBot) SendChatAction(context.Context, *telego.SendChatActionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeBot) UpdatesViaLongPolling(context.Context, *telego.GetUpdatesParams, ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return f.updates, nil
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	interaction, mark := decodeCallback(encodeButton(2, 77))
	if interaction != dispatcher.Button(2) || mark != 77 {
		t.Fatalf("button = %#v mark %d", interaction, mark)
	}

	interaction, mark = decodeCallback(encodeSwitch(false, 9))
	if interaction != dispatcher.CarouselSwitch(false) || mark != 9 {
		t.Fatalf("switch = %#v mark %d", interaction, mark)
	}

	if interaction, _ := decodeCallback("not json"); interaction.Kind != dispatcher.InteractionUndefined {
		t.Fatalf("garbage = %#v, want undefined", interaction)
	}
	if interaction, _ := decodeCallback(`{"m":5}`); interaction.Kind != dispatcher.InteractionUndefined {
		t.Fatalf("mark only = %#v, want undefined", interaction)
	}
	if len(encodeButton(99, 1_760_000_000_000)) > 64 {
		t.Fatal("callback data exceeds telegram limit")
	}
}

func TestDecodeUpdate(t *testing.T) {
	text := telego.Update{UpdateID: 10, Message: &telego.Message{
		Date: 500,
		Chat: telego.Chat{ID: 42},
		From: &telego.User{ID: 7},
		Text: " hello ",
	}}
	inbound, chatID, sender, ok := decodeUpdate(text)
	if !ok || chatID != 42 || sender != "7" {
		t.Fatalf("decode text = %v %d %q", ok, chatID, sender)
	}
	if inbound.ChatID != "42" || inbound.UpdateID != "10" || inbound.Time != 500 || inbound.Interaction != dispatcher.Text("hello") {
		t.Fatalf("inbound = %#v", inbound)
	}

	callback := telego.Update{UpdateID: 11, CallbackQuery: &telego.CallbackQuery{
		ID:      "q1",
		From:    telego.User{ID: 7},
		Message: &telego.Message{MessageID: 3, Date: 450, Chat: telego.Chat{ID: 42}},
		Data:    encodeButton(1, 0),
	}}
	inbound, _, _, ok = decodeUpdate(callback)
	if !ok || inbound.Time != 450 || inbound.Interaction != dispatcher.Button(1) {
		t.Fatalf("callback inbound = %#v", inbound)
	}

	if _, _, _, ok := decodeUpdate(telego.Update{UpdateID: 12}); ok {
		t.Fatal("empty update should not decode")
	}
}

func TestRendererSendsBlocks(t *testing.T) {
	bot := &fakeBot{date: 900}
	renderer := &Renderer{bot: bot}

	message := dialog.NewMessage(
		dialog.Text{Message: "hi"},
		dialog.Buttons{Context: dialog.Image{URL: "https://img/a.png"}, Buttons: []dialog.Button{{Name: "A"}, {Name: "B"}}},
		dialog.Card{Title: "T", Description: "D", ImageURL: "https://img/c.png"},
		dialog.End{},
	)

	sent, err := renderer.Render(context.Background(), "42", message)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
	if sent[2].MessageID != "3" || sent[2].SentAt != 900 {
		t.Fatalf("last sent = %#v", sent[2])
	}
	if len(bot.texts) != 1 || len(bot.photos) != 2 {
		t.Fatalf("texts = %d, photos = %d; want 1 and 2", len(bot.texts), len(bot.photos))
	}

	keyboard := bot.photos[0].ReplyMarkup.(*telego.InlineKeyboardMarkup)
	if len(keyboard.InlineKeyboard) != 2 || keyboard.InlineKeyboard[1][0].CallbackData != encodeButton(1, 0) {
		t.Fatalf("keyboard = %#v", keyboard.InlineKeyboard)
	}
	if bot.photos[1].Caption != "T\n\nD" {
		t.Fatalf("card caption = %q", bot.photos[1].Caption)
	}
}

func TestRendererReturnsPartialResultOnFailure(t *testing.T) {
	bot := &fakeBot{sendErr: errors.New("blocked by user")}
	renderer := &Renderer{bot: bot}

	sent, err := renderer.Render(context.Background(), "42", dialog.NewMessage(dialog.Image{URL: "https://img/a.png"}, dialog.Text{Message: "hi"}))
	if err == nil {
		t.Fatal("expected send error")
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want the image only", len(sent))
	}

	if _, err := renderer.Render(context.Background(), "not-a-chat", dialog.TextMessage("hi")); err == nil {
		t.Fatal("expected chat id error")
	}
}

func TestRendererCarouselPages(t *testing.T) {
	carousel, err := dialog.NewCarousel([]dialog.Card{
		{Title: "one", ImageURL: "https://img/1.png", Buttons: []dialog.Button{{Name: "Buy"}}},
		{Title: "two", ImageURL: "https://img/2.png"},
	})
	if err != nil {
		t.Fatalf("NewCarousel: %v", err)
	}
	bot := &fakeBot{date: 100}
	renderer := &Renderer{bot: bot}

	sent, err := renderer.Render(context.Background(), "42", dialog.NewMessage(carousel))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	keyboard := bot.photos[0].ReplyMarkup.(*telego.InlineKeyboardMarkup)
	if len(keyboard.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want button row and arrow row", len(keyboard.InlineKeyboard))
	}
	arrows := keyboard.InlineKeyboard[1]
	if len(arrows) != 1 || arrows[0].Text != arrowForward || arrows[0].CallbackData != encodeSwitch(true, carousel.Mark()) {
		t.Fatalf("arrows = %#v", arrows)
	}

	card, index, _ := carousel.Neighbor(true)
	switched, err := renderer.SwitchCarousel(context.Background(), "42", sent[0], dispatcher.CarouselView{
		Carousel: carousel, Card: card, Index: index, Mark: carousel.NextMark(),
	})
	if err != nil {
		t.Fatalf("SwitchCarousel: %v", err)
	}
	if switched.MessageID != sent[0].MessageID || switched.SentAt != 100 {
		t.Fatalf("switched = %#v", switched)
	}
	if len(bot.media) != 1 || bot.media[0].MessageID != 1 {
		t.Fatalf("media edits = %#v", bot.media)
	}
	backOnly := bot.media[0].ReplyMarkup.InlineKeyboard
	if len(backOnly) != 1 || backOnly[0][0].Text != arrowBack {
		t.Fatalf("second page keyboard = %#v", backOnly)
	}

	if _, err := renderer.SwitchCarousel(context.Background(), "42", session.SentMessage{MessageID: "x"}, dispatcher.CarouselView{Carousel: carousel, Card: card, Index: index}); err == nil {
		t.Fatal("expected invalid message id error")
	}
}

func TestHandleUpdateFiltersSendersAndAnswersCallbacks(t *testing.T) {
	bot := &fakeBot{}
	adapter := newAdapter(config.TelegramConfig{AllowFrom: []string{"7"}}, bot, nil)

	var handled []dispatcher.Update
	handler := func(_ context.Context, update dispatcher.Update) error {
		handled = append(handled, update)
		return nil
	}

	callback := telego.Update{UpdateID: 1, CallbackQuery: &telego.CallbackQuery{
		ID:      "q1",
		From:    telego.User{ID: 7},
		Message: &telego.Message{MessageID: 3, Date: 10, Chat: telego.Chat{ID: 42}},
		Data:    encodeSwitch(true, 5),
	}}
	if err := adapter.HandleUpdate(context.Background(), handler, callback); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if len(handled) != 1 || handled[0].Mark != 5 || handled[0].Interaction != dispatcher.CarouselSwitch(true) {
		t.Fatalf("handled = %#v", handled)
	}
	if len(bot.answered) != 1 || bot.answered[0] != "q1" {
		t.Fatalf("answered = %#v", bot.answered)
	}

	stranger := telego.Update{UpdateID: 2, Message: &telego.Message{Chat: telego.Chat{ID: 9}, From: &telego.User{ID: 8}, Text: "hi"}}
	if err := adapter.HandleUpdate(context.Background(), handler, stranger); err != nil {
		t.Fatalf("HandleUpdate stranger: %v", err)
	}
	if len(handled) != 1 {
		t.Fatal("unauthorized sender should be ignored")
	}

	if err := adapter.HandleUpdate(context.Background(), handler, telego.Update{UpdateID: 3}); !errors.Is(err, ErrUnsupportedUpdate) {
		t.Fatalf("err = %v, want unsupported update", err)
	}
}

func TestRunPollsUntilUpdatesClose(t *testing.T) {
	updates := make(chan telego.Update, 1)
	bot := &fakeBot{updates: updates}
	adapter := newAdapter(config.TelegramConfig{}, bot, nil)

	updates <- telego.Update{UpdateID: 5, Message: &telego.Message{Chat: telego.Chat{ID: 1}, From: &telego.User{ID: 1}, Text: "hi"}}
	close(updates)

	var mu sync.Mutex
	var got []dispatcher.Update
	err := adapter.Run(context.Background(), func(_ context.Context, update dispatcher.Update) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, update)
		return nil
	})
	if err == nil {
		t.Fatal("expected error when updates channel closes")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].UpdateID != "5" {
		t.Fatalf("got = %#v", got)
	}
}

func TestRunWebhookModeWaitsForShutdown(t *testing.T) {
	adapter := newAdapter(config.TelegramConfig{Mode: config.TelegramModeWebhook, WebhookSecret: " s3cret "}, &fakeBot{}, nil)
	if adapter.WebhookSecret() != "s3cret" {
		t.Fatalf("WebhookSecret = %q", adapter.WebhookSecret())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := adapter.Run(ctx, func(context.Context, dispatcher.Update) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCallbackDataIsJSON(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(encodeSwitch(true, 3)), &decoded); err != nil {
		t.Fatalf("switch payload: %v", err)
	}
	if decoded["d"] != true || decoded["m"] != float64(3) {
		t.Fatalf("decoded = %#v", decoded)
	}
}
