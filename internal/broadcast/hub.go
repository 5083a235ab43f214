// Package broadcast is the live broadcast bus (spec §4.6): a gorilla/websocket hub that bridges
// internal/bus topic publications out to subscribed sessions, enforcing the public/private
// topic split, the wss_<agentId>_<secret> auth scheme, and reconnect detection. Grounded on the
// teacher's internal/ws/{hub,client,server}.go Hub/Client/Server split, generalized from a
// single global broadcast channel to per-topic bridging from the bus.
package broadcast

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/bus"
	"github.com/abdoElHodaky/tradSys/internal/metrics"
	"github.com/abdoElHodaky/tradSys/internal/store"
)

// disconnectRecord remembers when and at what tick an agent's last session dropped, so the next
// successful AUTH can report how much the agent missed (spec §4.6, §8 reconnect detection).
type disconnectRecord struct {
	disconnectTime   time.Time
	tickAtDisconnect int64
}

// Hub owns every live session and the bus subscriptions feeding them.
type Hub struct {
	logger     *zap.Logger
	metrics    *metrics.Collector
	subscriber bus.Subscriber
	accounts   store.AccountStore

	currentTick int64 // atomic

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	sessions        map[*session]bool
	topicSessions   map[string]map[*session]bool // bus topic -> sessions receiving it
	agentSessions   map[string]map[*session]bool // agentID -> authenticated sessions
	bridgedTopics   map[string]bool              // bus topics already subscribed to
	disconnects     map[string]disconnectRecord  // agentID -> last full-disconnect record
}

// New constructs a Hub. subscriber is typically the same *bus.Bus the tick pipeline publishes
// to; accounts resolves AUTH api keys against the store.
func New(logger *zap.Logger, mc *metrics.Collector, subscriber bus.Subscriber, accounts store.AccountStore) *Hub {
	return &Hub{
		logger:        logger,
		metrics:       mc,
		subscriber:    subscriber,
		accounts:      accounts,
		sessions:      make(map[*session]bool),
		topicSessions: make(map[string]map[*session]bool),
		agentSessions: make(map[string]map[*session]bool),
		bridgedTopics: make(map[string]bool),
		disconnects:   make(map[string]disconnectRecord),
	}
}

// Start begins bridging the static public topics. Per-symbol and per-agent topics are bridged
// lazily on first subscription.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(context.Background())
	for _, ch := range staticPublicChannels {
		h.ensureBridged(busTopicFor(ch, ""))
	}
}

// Stop tears down every bus bridge goroutine.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// SetCurrentTick records the tick the tick pipeline is currently on, used to compute missed-tick
// counts on reconnect.
func (h *Hub) SetCurrentTick(tick int64) {
	atomic.StoreInt64(&h.currentTick, tick)
}

// ConnectionCount returns the number of live sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) ensureBridged(topic string) {
	h.mu.Lock()
	if h.bridgedTopics[topic] {
		h.mu.Unlock()
		return
	}
	h.bridgedTopics[topic] = true
	h.mu.Unlock()

	envelopes, err := h.subscriber.Subscribe(h.ctx, topic)
	if err != nil {
		h.logger.Error("failed to bridge bus topic to broadcast", zap.String("topic", topic), zap.Error(err))
		h.mu.Lock()
		delete(h.bridgedTopics, topic)
		h.mu.Unlock()
		return
	}
	go func() {
		for env := range envelopes {
			h.fanOut(topic, env.Payload)
		}
	}()
}

func (h *Hub) fanOut(topic string, payload []byte) {
	h.mu.Lock()
	targets := make([]*session, 0, len(h.topicSessions[topic]))
	for s := range h.topicSessions[topic] {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.deliver(payload)
	}
	if len(targets) > 0 {
		h.metrics.RecordBroadcastMessage(topic)
	}
}

// register admits a new session, auto-joining it to the tick/tick_updates topics (spec §4.6
// "auto-join on connect").
func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s] = true
	count := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetBroadcastConnections(count)

	s.deliver(connectedMessage(s.id, false, staticPublicChannels))
	h.subscribeChannel(s, "tick")
	h.subscribeChannel(s, "tick_updates")
}

// unregister removes s and, if it was that agent's last live session, records a disconnect.
func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if !h.sessions[s] {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	for _, set := range h.topicSessions {
		delete(set, s)
	}
	count := len(h.sessions)
	agentID := s.agent()
	var remaining int
	if agentID != "" {
		delete(h.agentSessions[agentID], s)
		remaining = len(h.agentSessions[agentID])
		if remaining == 0 {
			delete(h.agentSessions, agentID)
			h.disconnects[agentID] = disconnectRecord{
				disconnectTime:   time.Now(),
				tickAtDisconnect: atomic.LoadInt64(&h.currentTick),
			}
		}
	}
	h.mu.Unlock()
	close(s.send)
	h.metrics.SetBroadcastConnections(count)

	if agentID != "" && remaining > 0 {
		h.broadcastToAgent(agentID, agentSessionDisconnectedMessage(s.id, "closed", remaining))
	}
}

func (h *Hub) broadcastToAgent(agentID string, msg []byte) {
	h.mu.Lock()
	targets := make([]*session, 0, len(h.agentSessions[agentID]))
	for s := range h.agentSessions[agentID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.deliver(msg)
	}
}

// subscribeChannel bridges channel (if needed) and attaches s to it, unconditionally; callers
// are responsible for authorization checks (see handleSubscribe).
func (h *Hub) subscribeChannel(s *session, channel string) {
	topic := busTopicFor(channel, s.agent())
	s.mu.Lock()
	s.channels[channel] = true
	s.mu.Unlock()

	h.mu.Lock()
	if h.topicSessions[topic] == nil {
		h.topicSessions[topic] = make(map[*session]bool)
	}
	h.topicSessions[topic][s] = true
	h.mu.Unlock()

	h.ensureBridged(topic)
}

func (h *Hub) unsubscribeChannel(s *session, channel string) {
	topic := busTopicFor(channel, s.agent())
	h.mu.Lock()
	if set, ok := h.topicSessions[topic]; ok {
		delete(set, s)
	}
	h.mu.Unlock()
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

// handleInbound dispatches one decoded inbound frame (spec §4.6 "Inbound message types").
func (h *Hub) handleInbound(s *session, msg inboundMessage) {
	switch msg.Type {
	case InboundPing:
		s.deliver(pongMessage())
	case InboundAuth:
		h.handleAuth(s, msg.APIKey)
	case InboundSubscribe:
		h.handleSubscribe(s, msg.Channels)
	case InboundUnsubscribe:
		h.handleUnsubscribe(s, msg.Channels)
	default:
		h.logger.Debug("ignoring unknown inbound message type", zap.String("type", msg.Type))
	}
}

// parseAPIKey splits the wss_<agentId>_<secret> scheme (spec §4.6 "Authentication"). The secret
// is taken as the final underscore-delimited segment so agent IDs may themselves contain
// underscores.
func parseAPIKey(key string) (agentID, secret string, ok bool) {
	const prefix = "wss_"
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func (h *Hub) handleAuth(s *session, apiKey string) {
	agentID, secret, ok := parseAPIKey(apiKey)
	if !ok {
		s.deliver(authErrorMessage("Invalid API key"))
		return
	}
	account, err := h.accounts.GetAccount(h.ctx, agentID)
	if err != nil || account.APIKeySecret == "" || account.APIKeySecret != secret {
		s.deliver(authErrorMessage("Invalid API key"))
		return
	}

	s.setAuthenticated(agentID)
	h.mu.Lock()
	if h.agentSessions[agentID] == nil {
		h.agentSessions[agentID] = make(map[*session]bool)
	}
	h.agentSessions[agentID][s] = true
	rec, hadDisconnect := h.disconnects[agentID]
	if hadDisconnect {
		delete(h.disconnects, agentID)
	}
	h.mu.Unlock()

	s.deliver(authSuccessMessage(agentID, staticPrivateChannels))
	if hadDisconnect {
		missed := atomic.LoadInt64(&h.currentTick) - rec.tickAtDisconnect
		var missedTicks *int64
		if missed > 0 {
			missedTicks = &missed
		}
		s.deliver(agentReconnectedMessage(agentID, rec.disconnectTime, time.Since(rec.disconnectTime).Milliseconds(), missedTicks))
	}
}

func (h *Hub) handleSubscribe(s *session, channels []string) {
	accepted := make([]string, 0, len(channels))
	var failed []subscribeFailure

	for _, c := range channels {
		switch {
		case isPublicChannel(c):
			h.subscribeChannel(s, c)
			accepted = append(accepted, c)
		case strings.HasPrefix(c, "agent:"):
			id := strings.TrimPrefix(c, "agent:")
			if !s.isAuthenticated() {
				failed = append(failed, subscribeFailure{Channel: c, Reason: "Authentication required"})
			} else if id != s.agent() {
				failed = append(failed, subscribeFailure{Channel: c, Reason: "Can only subscribe to own agent channel"})
			} else {
				h.subscribeChannel(s, c)
				accepted = append(accepted, c)
			}
		case isPrivateChannel(c):
			if !s.isAuthenticated() {
				failed = append(failed, subscribeFailure{Channel: c, Reason: "Authentication required"})
			} else {
				h.subscribeChannel(s, c)
				accepted = append(accepted, c)
			}
		default:
			failed = append(failed, subscribeFailure{Channel: c, Reason: "unknown channel"})
		}
	}
	s.deliver(subscribedMessage(accepted, failed))
}

func (h *Hub) handleUnsubscribe(s *session, channels []string) {
	for _, c := range channels {
		h.unsubscribeChannel(s, c)
	}
	s.deliver(unsubscribedMessage(channels))
}
