package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
)

// Publisher is the slice of the Redis client the relay publishes through
type Publisher interface {
	SafePublish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber opens the relay subscription
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// envelope is the relay wire format between instances
type envelope struct {
	Origin string `cbor:"1,keyasint"`
	UserID []byte `cbor:"2,keyasint"`
	Frame  []byte `cbor:"3,keyasint"`
}

var (
	relayEncMode cbor.EncMode
	relayDecMode cbor.DecMode
)

func init() {
	var err error
	relayEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("realtime: CBOR encoder initialization failed: " + err.Error())
	}
	relayDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("realtime: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEnvelope(origin string, userID uuid.UUID, frame []byte) ([]byte, error) {
	return relayEncMode.Marshal(envelope{Origin: origin, UserID: userID[:], Frame: frame})
}

func decodeEnvelope(data []byte) (*envelope, uuid.UUID, error) {
	var env envelope
	if err := relayDecMode.Unmarshal(data, &env); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to decode relay envelope: %w", err)
	}
	userID, err := uuid.FromBytes(env.UserID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("invalid relay user id: %w", err)
	}
	return &env, userID, nil
}

// Relay delivers frames to local connections and republishes them for the other
// instances, each of which delivers to its own connections.
type Relay struct {
	registry   *Registry
	publisher  Publisher
	subscriber Subscriber
	channel    string
	instanceID string
}

// NewRelay creates a relay on the given pub/sub channel
func NewRelay(registry *Registry, publisher Publisher, subscriber Subscriber, channel string) *Relay {
	return &Relay{
		registry:   registry,
		publisher:  publisher,
		subscriber: subscriber,
		channel:    channel,
		instanceID: uuid.NewString(),
	}
}

// Deliver writes locally and publishes for remote instances. It returns the
// local delivery count; a publish failure only costs remote delivery.
func (r *Relay) Deliver(ctx context.Context, userID uuid.UUID, frame []byte) int {
	delivered := r.registry.Broadcast(userID, frame)

	payload, err := encodeEnvelope(r.instanceID, userID, frame)
	if err != nil {
		metrics.ChatRelayPublishTotal.WithLabelValues("encode_error").Inc()
		logger.Warn("Failed to encode relay envelope", zap.Error(err))
		return delivered
	}
	if err := r.publisher.SafePublish(ctx, r.channel, payload).Err(); err != nil {
		metrics.ChatRelayPublishTotal.WithLabelValues("error").Inc()
		logger.Warn("Failed to publish relay frame",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return delivered
	}
	metrics.ChatRelayPublishTotal.WithLabelValues("ok").Inc()
	return delivered
}

// Run consumes the relay channel until ctx is cancelled, resubscribing after failures
func (r *Relay) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Relay subscription ended, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.subscriber.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to relay: %w", err)
	}
	metrics.ChatRelaySubscriptionActive.Set(1)
	defer metrics.ChatRelaySubscriptionActive.Set(0)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel closed")
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(payload []byte) {
	env, userID, err := decodeEnvelope(payload)
	if err != nil {
		logger.Warn("Dropping malformed relay frame", zap.Error(err))
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	r.registry.Broadcast(userID, env.Frame)
}
