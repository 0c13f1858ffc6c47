package live

import (
	"encoding/json"
	"time"
)

// Channel is a named broadcast topic a dashboard can subscribe to. The set is
// closed: unknown names are rejected at subscribe time.
type Channel string

const (
	ChannelLiveTracking    Channel = "live_tracking"
	ChannelTripCompletions Channel = "trip_completions"
	ChannelFoodEntries     Channel = "food_entries"
)

var knownChannels = map[Channel]struct{}{
	ChannelLiveTracking:    {},
	ChannelTripCompletions: {},
	ChannelFoodEntries:     {},
}

// parseChannels splits free-form names into known channels and rejects.
func parseChannels(names []string) (valid []Channel, unknown []string) {
	for _, name := range names {
		ch := Channel(name)
		if _, ok := knownChannels[ch]; ok {
			valid = append(valid, ch)
			continue
		}
		unknown = append(unknown, name)
	}
	return valid, unknown
}

// anonymousIDLen is how much of a user id ever leaves on a dashboard payload.
const anonymousIDLen = 8

func anonymizeUserID(id string) string {
	if len(id) <= anonymousIDLen {
		return id
	}
	return id[:anonymousIDLen]
}

// marshalEvent builds an outbound JSON event. Every event carries its type
// and an RFC3339 UTC timestamp.
func marshalEvent(eventType string, fields map[string]any) []byte {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(payload)
	if err != nil {
		// Fields are maps, strings and numbers throughout; this cannot
		// happen for the payloads this package builds.
		return []byte(`{"type":"` + eventType + `"}`)
	}
	return data
}
