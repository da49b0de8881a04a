package service

import (
	"context"
	"testing"
	"time"

	"caresms/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T) (IdentityResolver, *fakeFHIR) {
	t.Helper()
	store := newFakeFHIR()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewIdentityResolver(store, time.Minute, "+1", logger), store
}

func TestResolveSubjectByPhone(t *testing.T) {
	resolver, store := setupResolver(t)
	store.addPatient("pt-1", "+15551234567")
	ctx := context.Background()

	subjectID, err := resolver.ResolveSubjectByPhone(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "pt-1", subjectID)

	// Formatting variants normalize to the same subject.
	subjectID, err = resolver.ResolveSubjectByPhone(ctx, "(555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "pt-1", subjectID)
}

func TestResolveSubjectByPhoneCaches(t *testing.T) {
	resolver, store := setupResolver(t)
	store.addPatient("pt-1", "+15551234567")
	ctx := context.Background()

	_, err := resolver.ResolveSubjectByPhone(ctx, "+15551234567")
	require.NoError(t, err)
	_, err = resolver.ResolveSubjectByPhone(ctx, "+15551234567")
	require.NoError(t, err)

	store.mu.Lock()
	calls := store.findPatientCalls
	store.mu.Unlock()
	assert.Equal(t, 1, calls, "second lookup must come from the cache")

	// The forward lookup also primes the reverse direction.
	phone, err := resolver.ResolvePhoneBySubject(ctx, "pt-1")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", phone)
	store.mu.Lock()
	assert.Equal(t, 0, store.getPatientCalls)
	store.mu.Unlock()
}

func TestResolveSubjectByPhoneDistinguishesMissFromOutage(t *testing.T) {
	resolver, store := setupResolver(t)
	ctx := context.Background()

	_, err := resolver.ResolveSubjectByPhone(ctx, "+15550000000")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIdentityUnresolved))
	assert.False(t, errors.IsRetryable(err))

	store.mu.Lock()
	store.findPatientErr = errors.NewClinicalStoreError("search Patient", 503, assert.AnError)
	store.mu.Unlock()

	_, err = resolver.ResolveSubjectByPhone(ctx, "+15550000000")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIdentityUnavailable))
	assert.True(t, errors.IsRetryable(err))
}

func TestResolvePhoneBySubject(t *testing.T) {
	resolver, store := setupResolver(t)
	store.addPatient("pt-1", "+15551234567")
	ctx := context.Background()

	phone, err := resolver.ResolvePhoneBySubject(ctx, "pt-1")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", phone)

	_, err = resolver.ResolvePhoneBySubject(ctx, "pt-unknown")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIdentityUnresolved))
}

func TestResolvePhoneBySubjectWithoutContactPoint(t *testing.T) {
	resolver, store := setupResolver(t)
	store.addPatient("pt-2", "")
	ctx := context.Background()

	_, err := resolver.ResolvePhoneBySubject(ctx, "pt-2")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIdentityUnresolved))
}

func TestInvalidateDropsCachedMapping(t *testing.T) {
	resolver, store := setupResolver(t)
	store.addPatient("pt-1", "+15551234567")
	ctx := context.Background()

	_, err := resolver.ResolveSubjectByPhone(ctx, "+15551234567")
	require.NoError(t, err)

	resolver.Invalidate("+15551234567", "pt-1")

	_, err = resolver.ResolveSubjectByPhone(ctx, "+15551234567")
	require.NoError(t, err)
	store.mu.Lock()
	assert.Equal(t, 2, store.findPatientCalls)
	store.mu.Unlock()
}
