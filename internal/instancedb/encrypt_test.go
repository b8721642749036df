package instancedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitEncryptionRequiresExactly32Bytes(t *testing.T) {
	t.Cleanup(func() { encryptionKey = nil })

	assert.Error(t, InitEncryption([]byte("too-short")))
	assert.Error(t, InitEncryption(make([]byte, 31)))
	assert.Error(t, InitEncryption(make([]byte, 33)))
	assert.NoError(t, InitEncryption(make([]byte, 32)))
}

func TestEncryptedStringRoundTrip(t *testing.T) {
	t.Cleanup(func() { encryptionKey = nil })
	require.NoError(t, InitEncryption([]byte("0123456789abcdef0123456789abcdef")[:32]))

	original := EncryptedString("super-secret-oauth-token")
	stored, err := original.Value()
	require.NoError(t, err)
	require.NotEqual(t, string(original), stored)

	var restored EncryptedString
	require.NoError(t, restored.Scan(stored))
	assert.Equal(t, original, restored)
}

func TestEncryptedStringEmptyIsStoredUnencrypted(t *testing.T) {
	t.Cleanup(func() { encryptionKey = nil })
	require.NoError(t, InitEncryption(make([]byte, 32)))

	var e EncryptedString
	stored, err := e.Value()
	require.NoError(t, err)
	assert.Equal(t, "", stored)

	var restored EncryptedString = "leftover"
	require.NoError(t, restored.Scan(nil))
	assert.Equal(t, EncryptedString(""), restored)

	restored = "leftover"
	require.NoError(t, restored.Scan(""))
	assert.Equal(t, EncryptedString(""), restored)
}

func TestEncryptedStringValueErrorsWithoutInit(t *testing.T) {
	encryptionKey = nil
	_, err := EncryptedString("secret").Value()
	assert.Error(t, err)
}

func TestEncryptedStringScanRejectsNonString(t *testing.T) {
	t.Cleanup(func() { encryptionKey = nil })
	require.NoError(t, InitEncryption(make([]byte, 32)))

	var e EncryptedString
	assert.Error(t, e.Scan(12345))
}

func TestEncryptedStringScanRejectsTamperedData(t *testing.T) {
	t.Cleanup(func() { encryptionKey = nil })
	require.NoError(t, InitEncryption(make([]byte, 32)))

	original := EncryptedString("payload")
	stored, err := original.Value()
	require.NoError(t, err)

	tampered := stored.(string)[:len(stored.(string))-2] + "xx"
	var restored EncryptedString
	assert.Error(t, restored.Scan(tampered))
}
