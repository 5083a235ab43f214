package broadcast

import (
	"encoding/json"
	"time"
)

// Inbound message type tags (spec §4.6 "Session protocol").
const (
	InboundPing        = "PING"
	InboundAuth        = "AUTH"
	InboundSubscribe   = "SUBSCRIBE"
	InboundUnsubscribe = "UNSUBSCRIBE"
)

// Outbound message type tags (spec §4.6 "Session protocol").
const (
	OutboundConnected                = "CONNECTED"
	OutboundPong                     = "PONG"
	OutboundAuthSuccess               = "AUTH_SUCCESS"
	OutboundAuthError                 = "AUTH_ERROR"
	OutboundSubscribed                = "SUBSCRIBED"
	OutboundUnsubscribed              = "UNSUBSCRIBED"
	OutboundTickUpdate                = "TICK_UPDATE"
	OutboundPriceUpdate               = "PRICE_UPDATE"
	OutboundMarketUpdate              = "MARKET_UPDATE"
	OutboundTrade                     = "TRADE"
	OutboundAgentSessionDisconnected = "AGENT_SESSION_DISCONNECTED"
	OutboundAgentReconnected          = "AGENT_RECONNECTED"
)

// inboundMessage is the generic shape every inbound frame is decoded into before dispatch
// (spec §4.6: PING, AUTH {apiKey}, SUBSCRIBE {channels[]}, UNSUBSCRIBE {channels[]}).
type inboundMessage struct {
	Type     string   `json:"type"`
	APIKey   string   `json:"apiKey,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// subscribeFailure is one rejected channel in a SUBSCRIBED response (spec §4.6 "failed?").
type subscribeFailure struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every outbound payload here is a fixed, statically-typed struct; a marshal error
		// would mean a programming mistake, not a runtime condition to recover from.
		panic(err)
	}
	return b
}

func connectedMessage(socketID string, authenticated bool, publicChannels []string) []byte {
	return mustMarshal(struct {
		Type           string   `json:"type"`
		SocketID       string   `json:"socketId"`
		Authenticated  bool     `json:"authenticated"`
		PublicChannels []string `json:"publicChannels"`
		Message        string   `json:"message"`
	}{OutboundConnected, socketID, authenticated, publicChannels, "connected"})
}

func pongMessage() []byte {
	return mustMarshal(struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}{OutboundPong, time.Now().UnixMilli()})
}

func authSuccessMessage(agentID string, privateChannels []string) []byte {
	return mustMarshal(struct {
		Type            string   `json:"type"`
		AgentID         string   `json:"agentId"`
		PrivateChannels []string `json:"privateChannels"`
	}{OutboundAuthSuccess, agentID, privateChannels})
}

func authErrorMessage(msg string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{OutboundAuthError, msg})
}

func subscribedMessage(channels []string, failed []subscribeFailure) []byte {
	return mustMarshal(struct {
		Type     string             `json:"type"`
		Channels []string           `json:"channels"`
		Failed   []subscribeFailure `json:"failed,omitempty"`
	}{OutboundSubscribed, channels, failed})
}

func unsubscribedMessage(channels []string) []byte {
	return mustMarshal(struct {
		Type     string   `json:"type"`
		Channels []string `json:"channels"`
	}{OutboundUnsubscribed, channels})
}

func agentSessionDisconnectedMessage(socketID, reason string, remainingSessions int) []byte {
	return mustMarshal(struct {
		Type              string `json:"type"`
		SocketID          string `json:"socketId"`
		Reason            string `json:"reason"`
		RemainingSessions int    `json:"remainingSessions"`
	}{OutboundAgentSessionDisconnected, socketID, reason, remainingSessions})
}

func agentReconnectedMessage(agentID string, previousDisconnectTime time.Time, disconnectDurationMs int64, missedTicks *int64) []byte {
	return mustMarshal(struct {
		Type                   string `json:"type"`
		AgentID                string `json:"agentId"`
		PreviousDisconnectTime int64  `json:"previousDisconnectTime"`
		DisconnectDurationMS   int64  `json:"disconnectDurationMs"`
		MissedTicks            *int64 `json:"missedTicks,omitempty"`
	}{OutboundAgentReconnected, agentID, previousDisconnectTime.UnixMilli(), disconnectDurationMs, missedTicks})
}
