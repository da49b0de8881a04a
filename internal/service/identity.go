package service

import (
	"context"
	"time"

	"caresms/internal/constants"
	"caresms/internal/errors"
	"caresms/internal/metrics"
	"caresms/internal/validation"
	"caresms/pkg/fhir"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// IdentityResolver maps between subject identifiers and phone numbers.
// A resolver miss and a resolver outage are different answers: the first
// quarantines a message, the second defers it.
type IdentityResolver interface {
	ResolveSubjectByPhone(ctx context.Context, phone string) (string, error)
	ResolvePhoneBySubject(ctx context.Context, subjectID string) (string, error)
	Invalidate(phone, subjectID string)
}

type identityResolver struct {
	store         fhir.Client
	cache         *gocache.Cache
	defaultPrefix string
	logger        *logrus.Logger
}

// NewIdentityResolver builds a resolver backed by the clinical store with a
// TTL cache in front of it. Negative results are never cached: a subject can
// be registered between two replies.
func NewIdentityResolver(store fhir.Client, cacheTTL time.Duration, defaultRegionPrefix string, logger *logrus.Logger) IdentityResolver {
	if cacheTTL <= 0 {
		cacheTTL = time.Duration(constants.DefaultIdentityCacheTTLMinutes) * time.Minute
	}
	sweep := time.Duration(constants.DefaultIdentityCacheSweepMinutes) * time.Minute
	return &identityResolver{
		store:         store,
		cache:         gocache.New(cacheTTL, sweep),
		defaultPrefix: defaultRegionPrefix,
		logger:        logger,
	}
}

// ResolveSubjectByPhone returns the subject id registered for a phone number.
func (r *identityResolver) ResolveSubjectByPhone(ctx context.Context, phone string) (string, error) {
	normalized, err := validation.NormalizePhone(phone, r.defaultPrefix)
	if err != nil {
		return "", errors.NewIdentityUnresolvedError(phone)
	}

	cacheKey := "phone:" + normalized
	if cached, ok := r.cache.Get(cacheKey); ok {
		metrics.IncrementCounter("identity_cache_hits_total", map[string]string{"lookup": "phone"}, "Identity cache hits")
		return cached.(string), nil
	}
	metrics.IncrementCounter("identity_cache_misses_total", map[string]string{"lookup": "phone"}, "Identity cache misses")

	patient, err := r.store.FindPatientByPhone(ctx, validation.TelecomSearchValue(normalized))
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return "", errors.NewIdentityUnresolvedError(normalized)
		}
		return "", errors.NewIdentityUnavailableError(err)
	}
	if patient.ID == "" {
		return "", errors.NewIdentityUnresolvedError(normalized)
	}

	r.cache.SetDefault(cacheKey, patient.ID)
	if smsPhone, ok := patient.SMSPhone(); ok {
		if normalizedBack, err := validation.NormalizePhone(smsPhone, r.defaultPrefix); err == nil {
			r.cache.SetDefault("subject:"+patient.ID, normalizedBack)
		}
	}
	return patient.ID, nil
}

// ResolvePhoneBySubject returns the sms contact point registered for a
// subject.
func (r *identityResolver) ResolvePhoneBySubject(ctx context.Context, subjectID string) (string, error) {
	cacheKey := "subject:" + subjectID
	if cached, ok := r.cache.Get(cacheKey); ok {
		metrics.IncrementCounter("identity_cache_hits_total", map[string]string{"lookup": "subject"}, "Identity cache hits")
		return cached.(string), nil
	}
	metrics.IncrementCounter("identity_cache_misses_total", map[string]string{"lookup": "subject"}, "Identity cache misses")

	patient, err := r.store.GetPatient(ctx, subjectID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return "", errors.New(errors.ErrCodeIdentityUnresolved, "no subject with this id").
				WithContext("subjectID", subjectID)
		}
		return "", errors.NewIdentityUnavailableError(err)
	}

	smsPhone, ok := patient.SMSPhone()
	if !ok {
		return "", errors.New(errors.ErrCodeIdentityUnresolved, "subject has no sms contact point").
			WithContext("subjectID", subjectID)
	}
	normalized, err := validation.NormalizePhone(smsPhone, r.defaultPrefix)
	if err != nil {
		r.logger.WithField("subjectID", subjectID).Warn("Subject has an unparseable sms contact point")
		return "", errors.New(errors.ErrCodeIdentityUnresolved, "subject sms contact point is not a valid phone number").
			WithContext("subjectID", subjectID)
	}

	r.cache.SetDefault(cacheKey, normalized)
	r.cache.SetDefault("phone:"+normalized, subjectID)
	return normalized, nil
}

// Invalidate drops cached mappings, for use after a registration change.
func (r *identityResolver) Invalidate(phone, subjectID string) {
	if phone != "" {
		if normalized, err := validation.NormalizePhone(phone, r.defaultPrefix); err == nil {
			r.cache.Delete("phone:" + normalized)
		}
	}
	if subjectID != "" {
		r.cache.Delete("subject:" + subjectID)
	}
}
