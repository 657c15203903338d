package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-that-is-long-enough!!!!"

func TestNewRoomTokenServiceRejectsShortKey(t *testing.T) {
	_, err := NewRoomTokenService("too-short")
	assert.Error(t, err)
}

func TestMintAndValidate(t *testing.T) {
	svc, err := NewRoomTokenService(testSigningKey)
	require.NoError(t, err)

	token, err := svc.Mint("room-abc123", "alice")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "room-abc123", claims.Room)
	assert.Equal(t, "alice", claims.Identity)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	svc, err := NewRoomTokenService(testSigningKey)
	require.NoError(t, err)
	other, err := NewRoomTokenService("another-signing-key-that-is-long-enough!")
	require.NoError(t, err)

	token, err := svc.Mint("room-abc123", "alice")
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err, "token signed with a different key must not validate")
}

func TestValidateRejectsTampering(t *testing.T) {
	svc, err := NewRoomTokenService(testSigningKey)
	require.NoError(t, err)

	token, err := svc.Mint("room-abc123", "alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, err = svc.Validate(tampered)
	assert.Error(t, err, "tampered token must not validate")
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, err := NewRoomTokenService(testSigningKey)
	require.NoError(t, err)

	_, err = svc.Validate("not.a.token")
	assert.Error(t, err)
}
