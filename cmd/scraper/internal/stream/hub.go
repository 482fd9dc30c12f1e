package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// WSRequest is one decoded client command. Codes ride in a payload envelope
// on the wire and are normalized before any handler sees them, so every
// transport feeding the hub gets the same treatment.
type WSRequest struct {
	Action  string `json:"action"`
	Payload struct {
		Codes []string `json:"codes"`
	} `json:"payload"`
	ID string `json:"id,omitempty"`
}

// normalizeCodes trims, upper-cases, and drops empty codes in place.
func (r *WSRequest) normalizeCodes() {
	out := r.Payload.Codes[:0]
	for _, code := range r.Payload.Codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	r.Payload.Codes = out
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "quote"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// KnownCode reports whether a code is one the scraper has actually seen;
// subscriptions to unknown codes are rejected.
type KnownCode func(code string) bool

type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	feed   FeedSource
	known  KnownCode
	logger *zap.Logger

	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(feed FeedSource, known KnownCode, logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		feed:        feed,
		known:       known,
		logger:      logger,
		refCount:    make(map[string]int),
	}

	go h.feed.RunPubSub(context.Background(), h.Broadcast)

	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req WSRequest) {
	req.normalizeCodes()
	switch req.Action {
	case ActionSubscribe:
		h.handleSubscribe(client, req)
	case ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var valid []string
	for _, code := range req.Payload.Codes {
		if h.known(code) {
			// Idempotency: Ignore if already subscribed
			if h.clientSubs[client] != nil && h.clientSubs[client][code] {
				continue
			}
			valid = append(valid, code)
		}
	}

	if len(valid) == 0 {
		h.sendError(client, req.ID, "No valid/new codes provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	for _, code := range valid {
		h.clientSubs[client][code] = true
		if h.subscribers[code] == nil {
			h.subscribers[code] = make(map[ClientInterface]bool)
		}
		h.subscribers[code][client] = true

		// Manage upstream subscription (Ref counting)
		h.refCount[code]++
		if h.refCount[code] == 1 {
			if err := h.feed.SubscribeToFeed(context.Background(), code); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("code", code), zap.Error(err))
			}
		}
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", valid))

	// Send Snapshots (Async to avoid blocking lock)
	go func(targets []string) {
		snapshots, err := h.feed.GetSnapshots(context.Background(), targets)
		if err == nil {
			for _, snap := range snapshots {
				client.SendBytes([]byte(snap))
			}
		}
	}(valid)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, code := range req.Payload.Codes {
			if subs[code] {
				delete(subs, code)
				delete(h.subscribers[code], client)
				removed = append(removed, code)
				h.decreaseRefCount(code)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Codes))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for code := range subs {
			delete(h.subscribers[code], client)
			h.decreaseRefCount(code)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all codes")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for code := range subs {
			delete(h.subscribers[code], client)
			h.decreaseRefCount(code)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

func (h *Hub) Broadcast(code string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[code]; ok {
		msgBytes := []byte(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
		}
	}
}

func (h *Hub) decreaseRefCount(code string) {
	h.refCount[code]--
	if h.refCount[code] <= 0 {
		if err := h.feed.UnsubscribeFromFeed(context.Background(), code); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("code", code), zap.Error(err))
		}
		delete(h.refCount, code)
		delete(h.subscribers, code)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(WSResponse{Type: "error", ID: id, Message: msg})
}
