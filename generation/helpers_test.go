package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/llm/image"
	"github.com/BaSui01/inkflow/types"
)

// fakeProvider 按页记录调用，可按提示词注入失败.
type fakeProvider struct {
	name        string
	validateErr error
	delay       time.Duration

	mu    sync.Mutex
	calls []*image.GenerateRequest
	fail  func(req *image.GenerateRequest) error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) Validate() error { return p.validateErr }

func (p *fakeProvider) Generate(_ context.Context, req *image.GenerateRequest) ([]byte, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		m := p.maxInflight.Load()
		if n <= m || p.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	fail := p.fail
	p.mu.Unlock()

	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}
	return []byte("img:" + req.Prompt), nil
}

func (p *fakeProvider) setFail(fn func(req *image.GenerateRequest) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fn
}

func (p *fakeProvider) recorded() []*image.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*image.GenerateRequest(nil), p.calls...)
}

// memImages 是内存 ImageStore，文件名为 {index}.png.
type memImages struct {
	mu    sync.Mutex
	saved map[string]map[int][]byte
	err   error
}

func newMemImages() *memImages {
	return &memImages{saved: make(map[string]map[int][]byte)}
}

func (m *memImages) SaveImage(_ context.Context, _, taskID string, index int, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.saved[taskID] == nil {
		m.saved[taskID] = make(map[int][]byte)
	}
	m.saved[taskID][index] = data
	return fmt.Sprintf("%d.png", index), nil
}

func (m *memImages) LoadCoverImage(_ context.Context, _, taskID, filename string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := 0
	if filename != "" {
		if _, err := fmt.Sscanf(filename, "%d.png", &idx); err != nil {
			return nil, false, nil
		}
	}
	data, ok := m.saved[taskID][idx]
	return data, ok, nil
}

func (m *memImages) get(taskID string, index int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[taskID][index]
}

// failOn 让内容包含 marker 的页失败.
func failOn(marker string, err error) func(req *image.GenerateRequest) error {
	return func(req *image.GenerateRequest) error {
		if strings.Contains(req.Prompt, marker) {
			return err
		}
		return nil
	}
}

type fixture struct {
	orch     *Orchestrator
	provider *fakeProvider
	images   *memImages
	store    *MemoryStore
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		images:   newMemImages(),
		store:    NewMemoryStore(time.Hour),
	}
	resolver := ProviderResolverFunc(func(context.Context, string) (image.Provider, error) {
		return f.provider, nil
	})
	orch, err := NewOrchestrator(cfg, resolver, f.images, f.store, opts...)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return cfg
}

func pages(n int) []types.Page {
	out := make([]types.Page, n)
	for i := range out {
		out[i] = types.Page{Index: i, Type: types.PageContent, Content: fmt.Sprintf("<page-%d>", i)}
	}
	if n > 0 {
		out[0].Type = types.PageCover
	}
	return out
}

func collect(t *testing.T, events <-chan types.Event) []types.Event {
	t.Helper()
	var out []types.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func completeOf(t *testing.T, events []types.Event) *types.CompleteEventData {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, types.EventComplete, last.Type)
	data, ok := last.Data.(*types.CompleteEventData)
	require.True(t, ok)
	return data
}
