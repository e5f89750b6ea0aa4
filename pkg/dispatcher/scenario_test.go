package dispatcher

import (
	"context"
	"testing"

	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"

	"github.com/stretchr/testify/require"
)

func TestEndedConversationLaunchesAgain(t *testing.T) {
	backend := &fakeBackend{
		launchReply: dialog.NewMessage(dialog.Text{Message: "Welcome"}, dialog.End{}),
		textReply:   dialog.TextMessage("unexpected"),
	}
	renderer := &fakeRenderer{sentAt: 1000}
	d := newTestDispatcher(backend, renderer)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Text("hi")}))
	require.Equal(t, []dialog.Block{dialog.Text{Message: "Welcome"}}, renderer.blocks)

	current, ok := d.Store().Lookup("1")
	require.True(t, ok)
	_, started := current.LastInteraction()
	require.False(t, started, "ended conversation keeps no interaction time")

	_, valid := d.Store().Get("1")
	require.False(t, valid)

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1001, Interaction: Text("again")}))
	require.Equal(t, 2, backend.launchCalls)
	require.Zero(t, backend.textCalls)
}

func TestConversationContinuesWithText(t *testing.T) {
	backend := &fakeBackend{
		launchReply: dialog.TextMessage("Welcome"),
		textReply:   dialog.TextMessage("You said hello"),
	}
	renderer := &fakeRenderer{sentAt: 1000}
	d := newTestDispatcher(backend, renderer)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Text("start")}))
	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Text("hello")}))

	require.Equal(t, 1, backend.launchCalls)
	require.Equal(t, 1, backend.textCalls)
	require.Equal(t, "hello", backend.lastText)

	current, _ := d.Store().Lookup("1")
	last, ok := current.LastInteraction()
	require.True(t, ok)
	require.EqualValues(t, 1000, last)
}

func TestCarouselNavigationAndButtons(t *testing.T) {
	carousel, err := dialog.NewCarousel([]dialog.Card{
		{Title: "one", ImageURL: "https://img/1.png", Buttons: []dialog.Button{{Name: "Buy one", Path: "buy-1"}}},
		{Title: "two", ImageURL: "https://img/2.png", Buttons: []dialog.Button{{Name: "Buy two", Path: "buy-2"}}},
	})
	require.NoError(t, err)

	backend := &fakeBackend{
		launchReply: dialog.NewMessage(carousel),
		buttonReply: dialog.TextMessage("bought"),
	}
	renderer := &fakeRenderer{sentAt: 1000}
	d := newTestDispatcher(backend, renderer)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Text("hi")}))
	firstMark := carousel.Mark()

	err = d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: CarouselSwitch(true), Mark: firstMark - 1})
	require.ErrorIs(t, err, fault.ErrDeprecated)

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: CarouselSwitch(true), Mark: firstMark}))
	require.Len(t, renderer.switches, 1)
	require.Equal(t, 1, renderer.switches[0].Index)
	require.Equal(t, "two", renderer.switches[0].Card.Title)

	index, mark := carousel.State()
	require.Equal(t, 1, index)
	require.Greater(t, mark, firstMark)

	current, _ := d.Store().Lookup("1")
	previous, ok := current.PreviousMessage()
	require.True(t, ok)
	require.Same(t, carousel, previous.Block)
	require.Equal(t, "m1", previous.MessageID)

	err = d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: CarouselSwitch(true), Mark: mark})
	require.ErrorIs(t, err, fault.ErrValidation, "no wraparound past the last card")

	err = d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Button(0), Mark: firstMark})
	require.ErrorIs(t, err, fault.ErrDeprecated, "clicks on an old page are stale")

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Button(0), Mark: mark}))
	require.Equal(t, "buy-2", backend.lastPath)
	require.Equal(t, 1, backend.launchCalls)
}

func TestCarouselSwitchRequiresCarousel(t *testing.T) {
	backend := &fakeBackend{launchReply: dialog.TextMessage("Welcome")}
	d := newTestDispatcher(backend, &fakeRenderer{})
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: Text("hi")}))

	err := d.Dispatch(ctx, Update{ChatID: "1", Time: 1000, Interaction: CarouselSwitch(false)})
	require.ErrorIs(t, err, fault.ErrValidation)
}
