package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published [][]byte
	err       error
}

func (p *fakePublisher) SafePublish(_ context.Context, _ string, message interface{}) *redis.IntCmd {
	if p.err != nil {
		return redis.NewIntResult(0, p.err)
	}
	p.published = append(p.published, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	user := uuid.New()

	data, err := encodeEnvelope("instance-a", user, []byte(`{"type":"NEW_MESSAGE"}`))
	require.NoError(t, err)

	env, decodedUser, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", env.Origin)
	assert.Equal(t, user, decodedUser)
	assert.Equal(t, []byte(`{"type":"NEW_MESSAGE"}`), env.Frame)
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, _, err := decodeEnvelope([]byte("not cbor"))
	assert.Error(t, err)
}

func TestRelay_DeliverWritesLocallyAndPublishes(t *testing.T) {
	reg := NewRegistry()
	pub := &fakePublisher{}
	relay := NewRelay(reg, pub, nil, "notify")
	user := uuid.New()
	h := &recordingHandle{}
	reg.Register(user, h)

	delivered := relay.Deliver(context.Background(), user, []byte("frame"))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, h.count())
	require.Len(t, pub.published, 1)
}

func TestRelay_PublishFailureKeepsLocalDelivery(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg, &fakePublisher{err: errors.New("down")}, nil, "notify")
	user := uuid.New()
	h := &recordingHandle{}
	reg.Register(user, h)

	assert.Equal(t, 1, relay.Deliver(context.Background(), user, []byte("frame")))
	assert.Equal(t, 1, h.count())
}

func TestRelay_HandleSkipsOwnFrames(t *testing.T) {
	reg := NewRegistry()
	pub := &fakePublisher{}
	relay := NewRelay(reg, pub, nil, "notify")
	user := uuid.New()
	h := &recordingHandle{}
	reg.Register(user, h)

	relay.Deliver(context.Background(), user, []byte("frame"))
	relay.handle(pub.published[0])
	assert.Equal(t, 1, h.count(), "own frame must not be delivered twice")

	remote, err := encodeEnvelope("other-instance", user, []byte("remote"))
	require.NoError(t, err)
	relay.handle(remote)
	assert.Equal(t, 2, h.count())
}
