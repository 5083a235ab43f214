package broadcast

import "strings"

// Public topics require no authentication (spec §4.6 "Public topics").
var staticPublicChannels = []string{
	"tick", "tick_updates", "prices", "market:all", "news", "leaderboard", "trades", "events",
}

// Private topics require AUTH first and are scoped to the authenticated agent (spec §4.6
// "Private topics").
var staticPrivateChannels = []string{
	"portfolio", "orders", "messages", "alerts", "investigations",
}

// isPublicChannel reports whether channel can be subscribed to without authentication.
func isPublicChannel(channel string) bool {
	for _, c := range staticPublicChannels {
		if c == channel {
			return true
		}
	}
	return strings.HasPrefix(channel, "market:") || strings.HasPrefix(channel, "symbol:")
}

// isPrivateChannel reports whether channel requires authentication: either one of the
// authenticated-session channels (portfolio, orders, ...) or an agent-scoped agent:<id> channel.
func isPrivateChannel(channel string) bool {
	for _, c := range staticPrivateChannels {
		if c == channel {
			return true
		}
	}
	return strings.HasPrefix(channel, "agent:")
}

// busTopicFor maps a client-facing channel name to the underlying bus topic it is bridged from,
// given the requesting session's authenticated agent ID (empty if unauthenticated). The legacy
// "symbol:<SYMBOL>" alias and "tick_updates" both bridge from the same bus topic as their
// canonical counterpart (spec §4.6 "legacy symbol:<SYMBOL> is an alias of market:<SYMBOL>").
func busTopicFor(channel, agentID string) string {
	switch {
	case channel == "tick_updates":
		return "tick"
	case strings.HasPrefix(channel, "symbol:"):
		return "market:" + strings.TrimPrefix(channel, "symbol:")
	case strings.HasPrefix(channel, "agent:"):
		return "agent:" + strings.TrimPrefix(channel, "agent:")
	case isPrivateChannel(channel):
		return channel + ":" + agentID
	default:
		return channel
	}
}
