package translator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder 记录每次 Generate 使用的凭证和提示词
type recorder struct {
	mu      sync.Mutex
	keys    []string
	prompts []string
	handle  func(key string, call int, content Content) (*Response, error)
	badKeys map[string]bool
}

type fakeProvider struct {
	key string
	rec *recorder
}

func (p *fakeProvider) GetName() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, content Content) (*Response, error) {
	p.rec.mu.Lock()
	p.rec.keys = append(p.rec.keys, p.key)
	p.rec.prompts = append(p.rec.prompts, content.Prompt)
	n := len(p.rec.keys)
	p.rec.mu.Unlock()
	return p.rec.handle(p.key, n, content)
}

func (r *recorder) factory(apiKey string) (Provider, error) {
	if r.badKeys[apiKey] {
		return nil, errors.New("invalid credential")
	}
	return &fakeProvider{key: apiKey, rec: r}, nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func rateLimited() error {
	return &APIError{Provider: "fake", StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Body: `{"error":{"code":429}}`}
}

func textResponse(text string) func(string, int, Content) (*Response, error) {
	return func(string, int, Content) (*Response, error) {
		return &Response{Text: text}, nil
	}
}

func newTestGateway(t *testing.T, keys []string, rec *recorder) *Gateway {
	t.Helper()
	pool, err := NewCredentialPool(keys)
	if err != nil {
		t.Fatalf("NewCredentialPool: %v", err)
	}
	return NewGateway(pool, rec.factory, GatewayOptions{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	})
}
