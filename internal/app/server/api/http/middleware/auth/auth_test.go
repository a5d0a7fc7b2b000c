package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec := NewTokenCodec("test-secret")
	actor := Actor{UserID: uuid.New(), ClinicID: uuid.New()}

	token, err := codec.Issue(actor, time.Hour)
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestTokenCodec_WrongSecret(t *testing.T) {
	codec := NewTokenCodec("test-secret")
	other := NewTokenCodec("another-secret")

	token, err := codec.Issue(Actor{UserID: uuid.New(), ClinicID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_Expired(t *testing.T) {
	codec := NewTokenCodec("test-secret")

	token, err := codec.Issue(Actor{UserID: uuid.New(), ClinicID: uuid.New()}, -time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenCodec_Tampered(t *testing.T) {
	codec := NewTokenCodec("test-secret")

	token, err := codec.Issue(Actor{UserID: uuid.New(), ClinicID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	payload, sig, _ := strings.Cut(token, ".")
	tampered := payload + "x." + sig

	_, err = codec.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := NewTokenCodec("test-secret")

	for _, token := range []string{"", "no-dot", "a.b.c.d"} {
		_, err := codec.Verify(token)
		assert.Error(t, err, token)
	}
}

func TestTokenCodec_NilIDsRejected(t *testing.T) {
	codec := NewTokenCodec("test-secret")

	token, err := codec.Issue(Actor{}, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetActor(t *testing.T) {
	actor := Actor{UserID: uuid.New(), ClinicID: uuid.New()}
	ctx := context.WithValue(context.Background(), ActorKey, actor)

	got, ok := GetActor(ctx)
	assert.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = GetActor(context.Background())
	assert.False(t, ok)
}
