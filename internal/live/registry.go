package live

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sink is the write side of one live connection. Send must be safe to call
// from the registry's fan-out and must report delivery failure synchronously.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Observer is one dashboard session and its channel subscriptions. The
// subscription set is owned and mutated only by the registry.
type Observer struct {
	ID       string
	sink     Sink
	channels map[Channel]struct{}
}

// Tracked is the single live connection for one user id.
type Tracked struct {
	UserID string
	sink   Sink
}

// Registry owns all live-session state: dashboard observers, per-user tracked
// sessions and the periodic aggregator's lifecycle. All maps are guarded by
// mu and never handed out; fan-out always iterates a snapshot so connects and
// disconnects during delivery cannot corrupt iteration.
type Registry struct {
	mu        sync.Mutex
	observers map[*Observer]struct{}
	tracked   map[string]*Tracked

	aggCancel context.CancelFunc
	aggDone   chan struct{}

	// tick cadence, overridable in tests
	tickInterval time.Duration
	tickBackoff  time.Duration

	id    string
	redis *redis.Client
	relay *redis.PubSub
}

func NewRegistry(redisClient *redis.Client) *Registry {
	r := &Registry{
		observers:    map[*Observer]struct{}{},
		tracked:      map[string]*Tracked{},
		tickInterval: tickInterval,
		tickBackoff:  tickBackoff,
		id:           uuid.NewString(),
		redis:        redisClient,
	}
	if redisClient != nil {
		r.relay = redisClient.PSubscribe(context.Background(), relayTopicPattern)
		go r.relayRedis(r.relay)
	}
	return r
}

// ConnectObserver registers a dashboard session with an empty subscription
// set, acknowledges it and starts the periodic aggregator when the observer
// count transitions from zero to one.
func (r *Registry) ConnectObserver(sink Sink) *Observer {
	obs := &Observer{
		ID:       uuid.NewString(),
		sink:     sink,
		channels: map[Channel]struct{}{},
	}

	r.mu.Lock()
	r.observers[obs] = struct{}{}
	if len(r.observers) == 1 {
		r.startAggregatorLocked()
	}
	r.mu.Unlock()

	if err := sink.Send(marshalEvent("connection_established", map[string]any{
		"message": "Connected to KeraRoutes live dashboard",
	})); err != nil {
		log.Printf("live: connection ack to observer %s failed: %v", obs.ID, err)
		r.DisconnectObserver(obs)
		return obs
	}
	return obs
}

// DisconnectObserver removes an observer and its subscriptions, stopping the
// periodic aggregator when the registry empties. Idempotent.
func (r *Registry) DisconnectObserver(obs *Observer) {
	r.mu.Lock()
	if _, ok := r.observers[obs]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.observers, obs)
	if len(r.observers) == 0 {
		r.stopAggregatorLocked()
	}
	r.mu.Unlock()
}

// ConnectTracked binds a user id to a live connection, replacing any previous
// binding. The superseded sink is closed so its read loop unblocks; the new
// connection takes over immediately.
func (r *Registry) ConnectTracked(userID string, sink Sink) *Tracked {
	tr := &Tracked{UserID: userID, sink: sink}

	r.mu.Lock()
	prev := r.tracked[userID]
	r.tracked[userID] = tr
	r.mu.Unlock()

	if prev != nil {
		_ = prev.sink.Close()
	}

	if err := sink.Send(marshalEvent("tracking_started", map[string]any{
		"user_id": userID,
		"message": "Real-time trip tracking activated",
	})); err != nil {
		log.Printf("live: tracking ack to user %s failed: %v", userID, err)
	}
	return tr
}

// DisconnectTracked clears the user's slot only while tr still owns it, so a
// superseded connection's deferred teardown cannot evict its replacement.
// Clearing an absent slot is a no-op.
func (r *Registry) DisconnectTracked(userID string, tr *Tracked) {
	r.mu.Lock()
	if cur, ok := r.tracked[userID]; ok && (tr == nil || cur == tr) {
		delete(r.tracked, userID)
	}
	r.mu.Unlock()
}

// Subscribe adds channels to an observer's set. Unknown channel names are
// rejected with a subscription_error; the resulting full set is echoed back.
func (r *Registry) Subscribe(obs *Observer, names []string) {
	r.updateSubscriptions(obs, names, true)
}

// Unsubscribe removes channels from an observer's set and echoes the
// resulting full set back.
func (r *Registry) Unsubscribe(obs *Observer, names []string) {
	r.updateSubscriptions(obs, names, false)
}

func (r *Registry) updateSubscriptions(obs *Observer, names []string, add bool) {
	valid, unknown := parseChannels(names)

	r.mu.Lock()
	if _, ok := r.observers[obs]; !ok {
		r.mu.Unlock()
		return
	}
	for _, ch := range valid {
		if add {
			obs.channels[ch] = struct{}{}
		} else {
			delete(obs.channels, ch)
		}
	}
	subscribed := make([]string, 0, len(obs.channels))
	for ch := range obs.channels {
		subscribed = append(subscribed, string(ch))
	}
	r.mu.Unlock()
	sort.Strings(subscribed)

	if len(unknown) > 0 {
		_ = obs.sink.Send(marshalEvent("subscription_error", map[string]any{
			"unknown_channels": unknown,
		}))
	}
	if err := obs.sink.Send(marshalEvent("subscription_updated", map[string]any{
		"subscribed_channels": subscribed,
	})); err != nil {
		r.DisconnectObserver(obs)
	}
}

// Broadcast delivers a payload to every observer subscribed to the channel
// and, when a redis relay is configured, publishes it for peer instances.
// Returns the number of failed local deliveries.
func (r *Registry) Broadcast(ch Channel, payload []byte) int {
	failed := r.deliver(ch, payload)
	r.publishRelay(ch, payload)
	return failed
}

// deliver fans a payload out to the local observers of one channel.
func (r *Registry) deliver(ch Channel, payload []byte) int {
	r.mu.Lock()
	targets := make([]*Observer, 0, len(r.observers))
	for obs := range r.observers {
		if _, ok := obs.channels[ch]; ok {
			targets = append(targets, obs)
		}
	}
	r.mu.Unlock()

	return r.fanOut(targets, payload)
}

// BroadcastAll delivers a payload to every observer regardless of
// subscriptions. Periodic status ticks use this path.
func (r *Registry) BroadcastAll(payload []byte) int {
	r.mu.Lock()
	targets := make([]*Observer, 0, len(r.observers))
	for obs := range r.observers {
		targets = append(targets, obs)
	}
	r.mu.Unlock()

	return r.fanOut(targets, payload)
}

// fanOut sends to each target, collecting per-recipient failures. Failed
// recipients are disconnected after the sweep so one bad handle never blocks
// delivery to healthy peers.
func (r *Registry) fanOut(targets []*Observer, payload []byte) int {
	var failed []*Observer
	for _, obs := range targets {
		if err := obs.sink.Send(payload); err != nil {
			log.Printf("live: delivery to observer %s failed: %v", obs.ID, err)
			failed = append(failed, obs)
		}
	}
	for _, obs := range failed {
		r.DisconnectObserver(obs)
	}
	return len(failed)
}

// SendToUser delivers a payload to the user's tracked session, if any. A
// failed send tears the session down.
func (r *Registry) SendToUser(userID string, payload []byte) bool {
	r.mu.Lock()
	tr := r.tracked[userID]
	r.mu.Unlock()

	if tr == nil {
		return false
	}
	if err := tr.sink.Send(payload); err != nil {
		log.Printf("live: delivery to user %s failed: %v", userID, err)
		r.DisconnectTracked(userID, tr)
		return false
	}
	return true
}

// BroadcastTripCompleted pushes an anonymized trip summary to dashboards
// subscribed to trip_completions. Called by the trip persistence service
// after a record is finalized.
func (r *Registry) BroadcastTripCompleted(userID string, summary map[string]any) int {
	return r.Broadcast(ChannelTripCompletions, marshalEvent("trip_completed", map[string]any{
		"user_id":      anonymizeUserID(userID),
		"trip_summary": summary,
	}))
}

// BroadcastFoodEntry pushes an anonymized food-entry summary to dashboards
// subscribed to food_entries.
func (r *Registry) BroadcastFoodEntry(userID string, summary map[string]any) int {
	return r.Broadcast(ChannelFoodEntries, marshalEvent("food_entry", map[string]any{
		"user_id":      anonymizeUserID(userID),
		"food_summary": summary,
	}))
}

func (r *Registry) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

func (r *Registry) TrackedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Close stops the aggregator and the redis relay. The registry is not usable
// afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.stopAggregatorLocked()
	r.mu.Unlock()
	if r.relay != nil {
		_ = r.relay.Close()
	}
}

// relayEnvelope wraps relayed payloads so an instance can drop its own
// publishes instead of delivering them twice.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func (r *Registry) publishRelay(ch Channel, payload []byte) {
	if r.redis == nil {
		return
	}
	env, err := json.Marshal(relayEnvelope{Origin: r.id, Payload: payload})
	if err != nil {
		return
	}
	if err := r.redis.Publish(context.Background(), relayTopic(ch), env).Err(); err != nil {
		log.Printf("live: redis publish error: %v", err)
	}
}

func (r *Registry) relayRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			continue
		}
		if env.Origin == r.id {
			continue
		}
		r.deliver(channelFromRelayTopic(msg.Channel), env.Payload)
	}
}

const (
	relayTopicPrefix  = "live:"
	relayTopicPattern = "live:*"
)

func relayTopic(ch Channel) string {
	return relayTopicPrefix + string(ch)
}

func channelFromRelayTopic(topic string) Channel {
	if len(topic) <= len(relayTopicPrefix) {
		return ""
	}
	return Channel(topic[len(relayTopicPrefix):])
}
