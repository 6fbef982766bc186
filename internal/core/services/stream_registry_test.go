package services

import (
	"testing"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistryFixture() (*StreamRegistry, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return NewStreamRegistry("room-1", notifier, zap.NewNop().Sugar()), notifier
}

func TestRegistryAddFirstWins(t *testing.T) {
	reg, notifier := newRegistryFixture()

	first := &fakeRemoteStream{peer: "bob"}
	second := &fakeRemoteStream{peer: "bob"}

	assert.True(t, reg.Add("bob", first))
	assert.False(t, reg.Add("bob", second), "renegotiated duplicate is dropped")

	got, ok := reg.Get("bob")
	require.True(t, ok)
	assert.Same(t, domain.RemoteStream(first), got)
	assert.True(t, second.isClosed())
	assert.Len(t, notifier.byType(ports.UIStreamAdded), 1)
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	reg, notifier := newRegistryFixture()
	stream := &fakeRemoteStream{peer: "bob"}
	reg.Add("bob", stream)

	assert.True(t, reg.Remove("bob"))
	assert.True(t, stream.isClosed())
	assert.False(t, reg.Remove("bob"))
	assert.Len(t, notifier.byType(ports.UIStreamRemoved), 1)
}

func TestRegistryClear(t *testing.T) {
	reg, _ := newRegistryFixture()
	a := &fakeRemoteStream{peer: "alice"}
	b := &fakeRemoteStream{peer: "bob"}
	reg.Add("alice", a)
	reg.Add("bob", b)

	reg.Clear()

	assert.Zero(t, reg.Len())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}

func TestRegistryParticipantsSorted(t *testing.T) {
	reg, _ := newRegistryFixture()
	reg.Add("carol", &fakeRemoteStream{peer: "carol"})
	reg.Add("alice", &fakeRemoteStream{peer: "alice"})
	reg.Add("bob", &fakeRemoteStream{peer: "bob"})

	assert.Equal(t, []domain.ParticipantID{"alice", "bob", "carol"}, reg.Participants())
}
