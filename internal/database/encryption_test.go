package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-encryption-secret-with-32-chars!"

func TestEncryptorDisabledPassthrough(t *testing.T) {
	t.Setenv("CARESMS_ENABLE_ENCRYPTION", "false")

	enc, err := newEncryptor()
	require.NoError(t, err)

	out, err := enc.encrypt("+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", out)
}

func TestEncryptorRoundTrip(t *testing.T) {
	t.Setenv("CARESMS_ENABLE_ENCRYPTION", "true")
	t.Setenv("CARESMS_ENCRYPTION_SECRET", testSecret)

	enc, err := newEncryptor()
	require.NoError(t, err)

	ciphertext, err := enc.encrypt("Time for your morning check-in")
	require.NoError(t, err)
	assert.NotEqual(t, "Time for your morning check-in", ciphertext)
	assert.False(t, strings.Contains(ciphertext, "morning"))

	plaintext, err := enc.decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "Time for your morning check-in", plaintext)

	// A fresh nonce makes repeated encryptions of the same value differ.
	again, err := enc.encrypt("Time for your morning check-in")
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, again)
}

func TestEncryptorRequiresSecret(t *testing.T) {
	t.Setenv("CARESMS_ENABLE_ENCRYPTION", "true")
	t.Setenv("CARESMS_ENCRYPTION_SECRET", "")

	_, err := newEncryptor()
	assert.Error(t, err)

	t.Setenv("CARESMS_ENCRYPTION_SECRET", "too-short")
	_, err = newEncryptor()
	assert.Error(t, err)
}

func TestEncryptedLedgerRoundTrip(t *testing.T) {
	t.Setenv("CARESMS_ENABLE_ENCRYPTION", "true")
	t.Setenv("CARESMS_ENCRYPTION_SECRET", testSecret)

	db, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))

	rec, err := db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "+15551234567", rec.ToPhone)
	assert.Equal(t, "Time for your morning check-in", rec.Body)

	// The raw column must not contain plaintext PHI.
	var stored string
	err = db.db.QueryRowContext(ctx, "SELECT body FROM delivery_records WHERE idempotency_key = ?", "cr-1").Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, "Time for your morning check-in", stored)
}
