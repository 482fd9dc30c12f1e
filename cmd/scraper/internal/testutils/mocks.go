package testutils

import (
	"context"
	"sync"

	"github.com/pnthang/market-collector/cmd/scraper/internal/stream"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []stream.WSResponse // Stores decoded JSON messages
	RawBytes []string            // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]stream.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(stream.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockFeed simulates the Redis quote feed
type MockFeed struct {
	SubscribedChannels map[string]int // code -> count
	Snapshots          []string
	Mu                 sync.Mutex
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		SubscribedChannels: make(map[string]int),
		Snapshots:          []string{`{"code":"VNINDEX","price":1200.5}`},
	}
}

func (m *MockFeed) GetSnapshots(ctx context.Context, codes []string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Snapshots, nil
}

func (m *MockFeed) SubscribeToFeed(ctx context.Context, code string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[code]++
	return nil
}

func (m *MockFeed) UnsubscribeFromFeed(ctx context.Context, code string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SubscribedChannels[code] > 0 {
		m.SubscribedChannels[code]--
	}
	if m.SubscribedChannels[code] == 0 {
		delete(m.SubscribedChannels, code)
	}
	return nil
}

func (m *MockFeed) RunPubSub(ctx context.Context, onMessage func(code string, payload string)) {
	<-ctx.Done()
}

func (m *MockFeed) Close() error { return nil }
