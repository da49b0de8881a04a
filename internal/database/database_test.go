package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"caresms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(key string) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		IdempotencyKey: key,
		SubjectID:      "pt-1",
		ToPhone:        "+15551234567",
		Body:           "Time for your morning check-in",
		RequestRef:     "CommunicationRequest/" + key,
		Status:         models.DeliveryStatusPending,
	}
}

func TestInsertAndGetDeliveryRecord(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))

	rec, err := db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cr-1", rec.IdempotencyKey)
	assert.Equal(t, "pt-1", rec.SubjectID)
	assert.Equal(t, "+15551234567", rec.ToPhone)
	assert.Equal(t, "Time for your morning check-in", rec.Body)
	assert.Equal(t, models.DeliveryStatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	missing, err := db.GetDeliveryRecordByKey(ctx, "cr-none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertDuplicateKey(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))
	err := db.InsertDeliveryRecord(ctx, testRecord("cr-1"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestTransitionStatusCompareAndSet(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))

	ok, err := db.TransitionStatus(ctx, "cr-1", models.DeliveryStatusPending, models.DeliveryStatusSubmitted)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSubmitted, rec.Status)
	require.NotNil(t, rec.SubmittedAt)
	assert.Nil(t, rec.TerminalAt)

	// The expected-status guard refuses a lost race.
	ok, err = db.TransitionStatus(ctx, "cr-1", models.DeliveryStatusPending, models.DeliveryStatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.TransitionStatus(ctx, "cr-1", models.DeliveryStatusSubmitted, models.DeliveryStatusDelivered)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err = db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, rec.Status)
	require.NotNil(t, rec.TerminalAt)
}

func TestProviderSIDLookup(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))
	require.NoError(t, db.SetProviderSID(ctx, "cr-1", "SM123"))

	rec, err := db.GetDeliveryRecordByProviderSID(ctx, "SM123")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cr-1", rec.IdempotencyKey)

	missing, err := db.GetDeliveryRecordByProviderSID(ctx, "SMnone")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLastErrorAndRetryCount(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))

	require.NoError(t, db.SetLastError(ctx, "cr-1", "provider returned status 503"))
	require.NoError(t, db.IncrementRetryCount(ctx, "cr-1"))
	require.NoError(t, db.IncrementRetryCount(ctx, "cr-1"))

	rec, err := db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "provider returned status 503", *rec.LastError)
	assert.Equal(t, 2, rec.RetryCount)
}

func TestListStaleSubmitted(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-old")))
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-new")))
	for _, key := range []string{"cr-old", "cr-new"} {
		ok, err := db.TransitionStatus(ctx, key, models.DeliveryStatusPending, models.DeliveryStatusSubmitted)
		require.NoError(t, err)
		require.True(t, ok)
	}

	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now().UTC().Add(-10 * time.Millisecond)

	stale, err := db.ListStaleSubmitted(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	count, err := db.CountStaleSubmitted(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A delivered record is no longer stale.
	ok, err := db.TransitionStatus(ctx, "cr-old", models.DeliveryStatusSubmitted, models.DeliveryStatusDelivered)
	require.NoError(t, err)
	require.True(t, ok)

	stale, err = db.ListStaleSubmitted(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "cr-new", stale[0].IdempotencyKey)
}

func TestListMissingCommunication(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))
	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-2")))
	for _, key := range []string{"cr-1", "cr-2"} {
		ok, err := db.TransitionStatus(ctx, key, models.DeliveryStatusPending, models.DeliveryStatusSubmitted)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, db.SetCommunicationID(ctx, "cr-1", "comm-1"))

	missing, err := db.ListMissingCommunication(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "cr-2", missing[0].IdempotencyKey)
}

func TestInboundBacklogFlow(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	event := &models.InboundEvent{
		Kind:      models.EventKindReply,
		FromPhone: "+15559876543",
		Body:      "Feeling better today",
		Timestamp: time.Now(),
	}
	require.NoError(t, db.EnqueueInboundBacklog(ctx, event, "clinical store unreachable"))

	entries, err := db.ListUnprocessedBacklog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EventKindReply, entries[0].Event.Kind)
	assert.Equal(t, "+15559876543", entries[0].Event.FromPhone)
	assert.Equal(t, "Feeling better today", entries[0].Event.Body)
	assert.Equal(t, "clinical store unreachable", entries[0].Reason)
	assert.Equal(t, 0, entries[0].AttemptCount)

	require.NoError(t, db.TouchBacklogAttempt(ctx, entries[0].ID))
	entries, err = db.ListUnprocessedBacklog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].AttemptCount)

	require.NoError(t, db.MarkBacklogProcessed(ctx, entries[0].ID))
	entries, err = db.ListUnprocessedBacklog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupOldRecords(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.InsertDeliveryRecord(ctx, testRecord("cr-1")))
	require.NoError(t, db.CleanupOldRecords(ctx, 30))

	// Recent records survive retention cleanup.
	rec, err := db.GetDeliveryRecordByKey(ctx, "cr-1")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	err = db.CleanupOldRecords(ctx, 0)
	assert.Error(t, err)
}

func TestNewRejectsTraversalPath(t *testing.T) {
	_, err := New("../outside/ledger.db")
	assert.Error(t, err)
}
