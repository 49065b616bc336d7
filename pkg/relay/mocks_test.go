package relay

import (
	"context"
	"sync"

	"github.com/harun/pagerelay/pkg/completion"
	"github.com/stretchr/testify/mock"
)

type mockCompletion struct {
	mock.Mock
}

func (m *mockCompletion) Complete(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockCompletion) Provider() string {
	return "mock"
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, recipientID, text string) error {
	args := m.Called(ctx, recipientID, text)
	return args.Error(0)
}

// echoCompletion replies with the text of the last user turn.
type echoCompletion struct {
	mu       sync.Mutex
	requests []completion.Request
}

func (e *echoCompletion) Complete(ctx context.Context, req completion.Request) (string, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return "re:" + req.History[len(req.History)-1].Text, nil
}

func (e *echoCompletion) Provider() string {
	return "echo"
}

// recordingSender remembers every delivered message.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, recipientID, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, recipientID+":"+text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}
