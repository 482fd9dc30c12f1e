package stream_test

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/scraper/internal/stream"
	"github.com/pnthang/market-collector/cmd/scraper/internal/testutils"
)

var knownCodes = map[string]bool{"VNINDEX": true, "VN30": true, "HNX30": true}

func setup() (*stream.Hub, *testutils.MockFeed) {
	feed := testutils.NewMockFeed()
	known := func(code string) bool { return knownCodes[code] }
	return stream.NewHub(feed, known, zap.NewNop()), feed
}

func command(action, id string, codes ...string) stream.WSRequest {
	req := stream.WSRequest{Action: action, ID: id}
	req.Payload.Codes = codes
	return req
}

func TestHub_Subscribe_Success(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "req-1", "VNINDEX"))

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack, got %s", client.LastMsgType())
	}

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.SubscribedChannels["VNINDEX"] != 1 {
		t.Errorf("Expected upstream subscription to VNINDEX")
	}
}

func TestHub_Subscribe_NormalizesCodes(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "req-1", " vnindex ", ""))

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack for normalized code, got %s", client.LastMsgType())
	}

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.SubscribedChannels["VNINDEX"] != 1 {
		t.Errorf("Expected lowercase input to subscribe VNINDEX upstream")
	}
}

func TestHub_Subscribe_MixedValidity(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "req-2", "VNINDEX", "NOT_AN_INDEX"))

	client.Mu.Lock()
	lastMsg := client.Messages[len(client.Messages)-1]
	client.Mu.Unlock()
	if lastMsg.Status != "success" {
		t.Errorf("Expected success for partial valid subscription")
	}
	if !strings.Contains(lastMsg.Message, "VNINDEX") {
		t.Errorf("Response should contain accepted code VNINDEX")
	}
	if strings.Contains(lastMsg.Message, "NOT_AN_INDEX") {
		t.Errorf("Response should NOT contain unknown code")
	}
}

func TestHub_Subscribe_Idempotency(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "", "VNINDEX"))
	h.HandleCommand(client, command("subscribe", "", "VNINDEX"))

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.SubscribedChannels["VNINDEX"] != 1 {
		t.Errorf("Upstream should only subscribe once per unique code")
	}
}

func TestHub_Unsubscribe_Logic(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "", "VNINDEX", "VN30"))
	h.HandleCommand(client, command("unsubscribe", "", "VNINDEX"))

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if feed.SubscribedChannels["VNINDEX"] != 0 {
		t.Errorf("Upstream should be unsubscribed from VNINDEX")
	}
	if feed.SubscribedChannels["VN30"] != 1 {
		t.Errorf("Upstream should still be subscribed to VN30")
	}
}

func TestHub_Unsubscribe_NotSubscribed(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("unsubscribe", "err-check", "HNX30"))

	client.Mu.Lock()
	lastMsg := client.Messages[len(client.Messages)-1]
	client.Mu.Unlock()
	if lastMsg.Type != "error" {
		t.Errorf("Expected error response for unsubscribing non-watched code")
	}
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("subscribe", "", "VNINDEX", "VN30"))
	h.HandleCommand(client, command("unsubscribe_all", ""))

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if len(feed.SubscribedChannels) != 0 {
		t.Errorf("Feed should be empty after unsubscribe_all")
	}
}

func TestHub_UnknownAction(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, command("frobnicate", "x"))

	if client.LastMsgType() != "error" {
		t.Errorf("Expected error for unknown action, got %s", client.LastMsgType())
	}
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	go func() {
		h.HandleCommand(client, command("subscribe", "", "VNINDEX"))
	}()
	go func() {
		h.HandleCommand(client, command("unsubscribe", "", "VNINDEX"))
	}()
	go func() {
		h.Unregister(client)
	}()
}
