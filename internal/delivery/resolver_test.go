package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgblast/internal/transport"
)

func TestResolveRecipientPrefersIndividual(t *testing.T) {
	t.Parallel()
	c := &fakeClient{
		users:  map[string]transport.Handle{"alice": "u1"},
		groups: map[string]transport.Handle{"alice": "g1"},
	}
	got, err := ResolveRecipient(context.Background(), c, "alice")
	require.NoError(t, err)
	assert.Equal(t, Target{Kind: KindIndividual, Handle: "u1"}, got)
	assert.Equal(t, 0, c.callCount("resolve_group"))
}

func TestResolveRecipientFallsBackToGroup(t *testing.T) {
	t.Parallel()
	c := &fakeClient{groups: map[string]transport.Handle{"friends": "g1"}}
	got, err := ResolveRecipient(context.Background(), c, "friends")
	require.NoError(t, err)
	assert.Equal(t, Target{Kind: KindGroup, Handle: "g1"}, got)
}

func TestResolveRecipientIndividualErrorIsNotFatal(t *testing.T) {
	t.Parallel()
	c := &fakeClient{userErr: errBoom, groups: map[string]transport.Handle{"friends": "g1"}}
	got, err := ResolveRecipient(context.Background(), c, "friends")
	require.NoError(t, err)
	assert.Equal(t, KindGroup, got.Kind)
}

func TestResolveRecipientEmptyHandleIsMiss(t *testing.T) {
	t.Parallel()
	c := &fakeClient{
		users:  map[string]transport.Handle{"bob": ""},
		groups: map[string]transport.Handle{"bob": "g9"},
	}
	got, err := ResolveRecipient(context.Background(), c, "bob")
	require.NoError(t, err)
	assert.Equal(t, Target{Kind: KindGroup, Handle: "g9"}, got)
}

func TestResolveRecipientNotFound(t *testing.T) {
	t.Parallel()
	c := &fakeClient{userErr: errBoom}
	_, err := ResolveRecipient(context.Background(), c, "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestFirstOfRecoversPanics(t *testing.T) {
	t.Parallel()
	boom := func(ctx context.Context) (Target, error) { panic("nil map") }
	ok := func(ctx context.Context) (Target, error) { return Target{Kind: KindGroup, Handle: "g"}, nil }

	got, err := firstOf(context.Background(), boom, ok)
	require.NoError(t, err)
	assert.Equal(t, transport.Handle("g"), got.Handle)

	_, err = firstOf(context.Background(), boom)
	var pe panicError
	assert.True(t, errors.As(err, &pe))
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "individual", KindIndividual.String())
	assert.Equal(t, "group", KindGroup.String())
	assert.Equal(t, "unknown", Kind(7).String())
}
