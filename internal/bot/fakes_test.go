package bot

import (
	"context"
	"sync"

	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/llm"
)

type sent struct {
	chatID string
	text   string
}

type fakeTransport struct {
	mu      sync.Mutex
	name    string
	texts   []sent
	actions []Action
	media   [][]string
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{name: "groupmind_bot"}
}

func (f *fakeTransport) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeTransport) SendAction(_ context.Context, _ string, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTransport) SendMediaGroup(_ context.Context, _ string, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, urls)
	return nil
}

func (f *fakeTransport) BotName() string { return f.name }

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	for i, s := range f.texts {
		out[i] = s.text
	}
	return out
}

func (f *fakeTransport) outbound() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.actions) + len(f.media)
}

type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := append([]domain.Turn(nil), req.Turns...)
	req.Turns = turns
	f.requests = append(f.requests, req)
	if f.respond == nil {
		return &llm.Response{Choices: []llm.Choice{{Content: "ok"}}}, nil
	}
	return f.respond(req)
}

func (f *fakeLLM) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func reply(text string, usage *llm.Usage) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Choices: []llm.Choice{{Content: text}}, Usage: usage}, nil
	}
}

func failing(err error) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return nil, err }
}

type fakeImages struct {
	urls   []string
	err    error
	prompt string
}

func (f *fakeImages) Generate(_ context.Context, prompt string) ([]string, error) {
	f.prompt = prompt
	return f.urls, f.err
}
