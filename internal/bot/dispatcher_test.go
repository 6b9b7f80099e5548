package bot

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  map[string][]string
	delay time.Duration
	done  chan struct{}
	want  int
	count int
	panic bool
}

func (h *recordingHandler) Route(_ context.Context, _ Transport, u domain.Update) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.panic && u.Text == "boom" {
		panic("handler exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[string][]string)
	}
	h.seen[u.ChatID] = append(h.seen[u.ChatID], u.Text)
	h.count++
	if h.count == h.want {
		close(h.done)
	}
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for updates")
	}
}

func TestDispatcherPreservesPerChatOrder(t *testing.T) {
	const perChat = 50
	chats := []string{"a", "b", "c"}
	h := &recordingHandler{done: make(chan struct{}), want: perChat * len(chats), delay: time.Millisecond}
	d := NewDispatcher(h, 4, nil)
	defer d.Close()

	var wg sync.WaitGroup
	for _, chat := range chats {
		wg.Add(1)
		go func(chat string) {
			defer wg.Done()
			for i := 0; i < perChat; i++ {
				if err := d.Submit(context.Background(), newFakeTransport(), domain.Update{ChatID: chat, Text: strconv.Itoa(i)}); err != nil {
					t.Errorf("Submit failed: %v", err)
					return
				}
			}
		}(chat)
	}
	wg.Wait()
	waitFor(t, h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, chat := range chats {
		got := h.seen[chat]
		if len(got) != perChat {
			t.Fatalf("chat %s: expected %d updates, got %d", chat, perChat, len(got))
		}
		for i, text := range got {
			if text != strconv.Itoa(i) {
				t.Fatalf("chat %s: update %d out of order: %s", chat, i, text)
			}
		}
	}
}

func TestDispatcherSurvivesHandlerPanic(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}), want: 1, panic: true}
	d := NewDispatcher(h, 4, nil)
	defer d.Close()

	ctx := context.Background()
	if err := d.Submit(ctx, newFakeTransport(), domain.Update{ChatID: "x", Text: "boom"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := d.Submit(ctx, newFakeTransport(), domain.Update{ChatID: "x", Text: "after"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, h.done)
}

func TestDispatcherIdleWorkerExitsAndRestarts(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}), want: 2}
	d := NewDispatcher(h, 4, nil)
	d.idleTimeout = 10 * time.Millisecond
	defer d.Close()

	ctx := context.Background()
	if err := d.Submit(ctx, newFakeTransport(), domain.Update{ChatID: "x", Text: "1"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		n := len(d.workers)
		d.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := d.Submit(ctx, newFakeTransport(), domain.Update{ChatID: "x", Text: "2"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, h.done)
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingHandler{done: make(chan struct{})}, 1, nil)
	d.Close()
	d.Close()

	err := d.Submit(context.Background(), newFakeTransport(), domain.Update{ChatID: "x"})
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcherRoutesThroughRouter(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher(h.router, 8, nil)

	ctx := context.Background()
	for _, text := range []string{"one", "two", "/chat three"} {
		if err := d.Submit(ctx, h.tr, domain.Update{ChatID: "g", SenderName: "alice", Text: text}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(h.tr.sentTexts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for chat reply")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Close()

	hist := h.history("g")
	if len(hist.GroupLog) != 2 || len(hist.Dialogue) != 2 {
		t.Fatalf("unexpected history %+v", hist)
	}
}

type blockingHandler struct {
	block   string
	release chan struct{}
	handled chan string
}

func (h *blockingHandler) Route(ctx context.Context, _ Transport, u domain.Update) error {
	if u.ChatID == h.block {
		select {
		case <-h.release:
		case <-ctx.Done():
		}
	}
	h.handled <- u.ChatID + ":" + u.Text
	return nil
}

func TestDispatcherBusyChatDoesNotStallOtherChats(t *testing.T) {
	h := &blockingHandler{block: "A", release: make(chan struct{}), handled: make(chan string, 16)}
	d := NewDispatcher(h, 1, nil)
	defer d.Close()

	// One goroutine submits everything, like the Telegram polling loop.
	submitted := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for _, u := range []domain.Update{
			{ChatID: "A", Text: "1"},
			{ChatID: "A", Text: "2"},
			{ChatID: "A", Text: "3"},
			{ChatID: "B", Text: "1"},
		} {
			if err := d.Submit(ctx, newFakeTransport(), u); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(h.release)
		t.Fatal("Submit blocked behind a busy chat")
	}

	select {
	case got := <-h.handled:
		if got != "B:1" {
			t.Fatalf("expected chat B to be handled first, got %s", got)
		}
	case <-time.After(2 * time.Second):
		close(h.release)
		t.Fatal("chat B was not handled while chat A was busy")
	}

	close(h.release)
	for _, want := range []string{"A:1", "A:2", "A:3"} {
		select {
		case got := <-h.handled:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDispatcherSubmitWithCanceledContext(t *testing.T) {
	d := NewDispatcher(&recordingHandler{done: make(chan struct{})}, 1, nil)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Submit(ctx, newFakeTransport(), domain.Update{ChatID: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
