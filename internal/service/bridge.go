package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caresms/internal/constants"
	"caresms/internal/database"
	"caresms/internal/errors"
	"caresms/internal/metrics"
	"caresms/internal/models"
	"caresms/internal/tracing"
	"caresms/internal/validation"
	"caresms/pkg/fhir"
	"caresms/pkg/twilio"

	"github.com/sirupsen/logrus"
)

// Ledger is the persistence surface the bridge depends on.
type Ledger interface {
	InsertDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error
	GetDeliveryRecordByKey(ctx context.Context, key string) (*models.DeliveryRecord, error)
	GetDeliveryRecordByProviderSID(ctx context.Context, sid string) (*models.DeliveryRecord, error)
	TransitionStatus(ctx context.Context, key string, from, to models.DeliveryStatus) (bool, error)
	SetProviderSID(ctx context.Context, key, sid string) error
	SetCommunicationID(ctx context.Context, key, communicationID string) error
	SetLastError(ctx context.Context, key, message string) error
	IncrementRetryCount(ctx context.Context, key string) error
	ListStaleSubmitted(ctx context.Context, before time.Time, limit int) ([]*models.DeliveryRecord, error)
	ListMissingCommunication(ctx context.Context, limit int) ([]*models.DeliveryRecord, error)
	CountStaleSubmitted(ctx context.Context, before time.Time) (int, error)
	CleanupOldRecords(ctx context.Context, retentionDays int) error
	EnqueueInboundBacklog(ctx context.Context, event *models.InboundEvent, reason string) error
	ListUnprocessedBacklog(ctx context.Context, limit int) ([]*models.InboundBacklogEntry, error)
	MarkBacklogProcessed(ctx context.Context, id int64) error
	TouchBacklogAttempt(ctx context.Context, id int64) error
}

// MessageBridge coordinates the clinical store, the SMS provider and the
// delivery ledger.
type MessageBridge interface {
	Submit(ctx context.Context, intent *models.OutboundMessageIntent) (*models.DeliveryRecord, error)
	HandleInboundEvent(ctx context.Context, event *models.InboundEvent) (models.ProcessingOutcome, error)
	Reconcile(ctx context.Context, windowStart, windowEnd time.Time) (*models.ReconciliationReport, error)
	ExecuteDueRequests(ctx context.Context) (*models.ExecutionReport, error)
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

type bridge struct {
	store          fhir.Client
	sms            twilio.Client
	ledger         Ledger
	identity       IdentityResolver
	locks          *keyLocks
	staleThreshold time.Duration
	reconcileLimit int
	logger         *logrus.Logger
}

// NewBridge wires the message bridge. staleThreshold bounds how long a record
// may sit in submitted status before reconcile polls the provider for it.
func NewBridge(store fhir.Client, sms twilio.Client, ledger Ledger, identity IdentityResolver,
	staleThreshold time.Duration, logger *logrus.Logger) MessageBridge {
	if staleThreshold <= 0 {
		staleThreshold = time.Duration(constants.DefaultStaleSubmittedMinutes) * time.Minute
	}
	return &bridge{
		store:          store,
		sms:            sms,
		ledger:         ledger,
		identity:       identity,
		locks:          newKeyLocks(),
		staleThreshold: staleThreshold,
		reconcileLimit: constants.DefaultReconcileBatchSize,
		logger:         logger,
	}
}

// Submit sends one outbound message at most once per idempotency key. A
// duplicate submission returns the existing record without touching the
// provider. A record whose previous attempt failed is re-armed and retried.
func (b *bridge) Submit(ctx context.Context, intent *models.OutboundMessageIntent) (*models.DeliveryRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.Submit")
	defer span.End()

	if err := validation.ValidateIntent(intent); err != nil {
		return nil, err
	}
	key := intent.IdempotencyKey
	log := b.logger.WithField("idempotencyKey", key)

	rec, proceed, err := b.reserveSubmission(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !proceed {
		metrics.IncrementCounter("submissions_duplicate_total", nil, "Duplicate outbound submissions")
		log.WithField("status", rec.Status).Debug("Duplicate submission, returning existing record")
		return rec, nil
	}

	// The pending row now exists, so even if the caller abandons us mid-send
	// the attempt stays visible to reconcile. Ledger writes after the send
	// must not be lost to the caller's cancellation.
	postCtx := context.WithoutCancel(ctx)

	msg, sendErr := b.sms.SendMessage(ctx, rec.ToPhone, rec.Body)
	if sendErr != nil {
		metrics.IncrementCounter("submissions_failed_total", nil, "Outbound sends rejected by the provider")
		unlock := b.locks.Lock(key)
		if _, terr := b.ledger.TransitionStatus(postCtx, key, models.DeliveryStatusPending, models.DeliveryStatusFailed); terr != nil {
			log.WithError(terr).Error("Failed to mark delivery record failed after send error")
		}
		if serr := b.ledger.SetLastError(postCtx, key, sendErr.Error()); serr != nil {
			log.WithError(serr).Error("Failed to record send error on delivery record")
		}
		unlock()
		rec, rerr := b.ledger.GetDeliveryRecordByKey(postCtx, key)
		if rerr != nil {
			log.WithError(rerr).Error("Failed to reload delivery record after send error")
		}
		return rec, sendErr
	}

	unlock := b.locks.Lock(key)
	if err := b.ledger.SetProviderSID(postCtx, key, msg.SID); err != nil {
		unlock()
		return nil, errors.NewDatabaseError("set provider sid", err)
	}
	if _, err := b.ledger.TransitionStatus(postCtx, key, models.DeliveryStatusPending, models.DeliveryStatusSubmitted); err != nil {
		unlock()
		return nil, errors.NewDatabaseError("transition to submitted", err)
	}
	unlock()

	metrics.IncrementCounter("submissions_total", nil, "Outbound messages accepted by the provider")
	log.WithField("providerSID", msg.SID).Info("Message accepted by provider")

	// The clinical record write rides behind the provider send. A failure
	// here is repaired by reconcile, not surfaced to the caller.
	comm := b.buildOutboundCommunication(intent, rec, msg.SID)
	commID, err := b.store.CreateCommunication(postCtx, comm)
	if err != nil {
		metrics.IncrementCounter("communication_writes_deferred_total", nil, "Clinical record writes deferred to reconcile")
		log.WithError(err).Warn("Clinical record write failed, leaving repair to reconcile")
	} else if err := b.ledger.SetCommunicationID(postCtx, key, commID); err != nil {
		log.WithError(err).Error("Failed to record communication id on delivery record")
	}

	final, err := b.ledger.GetDeliveryRecordByKey(postCtx, key)
	if err != nil {
		return nil, errors.NewDatabaseError("reload delivery record", err)
	}
	return final, nil
}

// reserveSubmission claims the idempotency key. It returns the record and
// whether the caller owns a send attempt: false means a live record already
// exists and the submission is a duplicate.
func (b *bridge) reserveSubmission(ctx context.Context, intent *models.OutboundMessageIntent) (*models.DeliveryRecord, bool, error) {
	key := intent.IdempotencyKey

	unlock := b.locks.Lock(key)
	rec, err := b.ledger.GetDeliveryRecordByKey(ctx, key)
	if err != nil {
		unlock()
		return nil, false, errors.NewDatabaseError("get delivery record", err)
	}
	if rec != nil {
		if rec.Status != models.DeliveryStatusFailed {
			unlock()
			return rec, false, nil
		}
		// Re-arm a failed record for another attempt.
		ok, err := b.ledger.TransitionStatus(ctx, key, models.DeliveryStatusFailed, models.DeliveryStatusPending)
		if err != nil {
			unlock()
			return nil, false, errors.NewDatabaseError("re-arm failed record", err)
		}
		if !ok {
			rec, _ = b.ledger.GetDeliveryRecordByKey(ctx, key)
			unlock()
			return rec, false, nil
		}
		if err := b.ledger.IncrementRetryCount(ctx, key); err != nil {
			b.logger.WithError(err).WithField("idempotencyKey", key).Error("Failed to increment retry count")
		}
		rec, err = b.ledger.GetDeliveryRecordByKey(ctx, key)
		if err != nil {
			unlock()
			return nil, false, errors.NewDatabaseError("reload delivery record", err)
		}
		unlock()
		return rec, true, nil
	}
	unlock()

	// Identity resolution is a network call, done outside the key lock.
	phone, err := b.identity.ResolvePhoneBySubject(ctx, intent.SubjectID)
	if err != nil {
		return nil, false, err
	}

	rec = &models.DeliveryRecord{
		IdempotencyKey: key,
		SubjectID:      intent.SubjectID,
		ToPhone:        phone,
		Body:           intent.Body,
		RequestRef:     intent.RequestRef,
		Status:         models.DeliveryStatusPending,
	}

	unlock = b.locks.Lock(key)
	defer unlock()
	if err := b.ledger.InsertDeliveryRecord(ctx, rec); err != nil {
		if err == database.ErrDuplicateKey {
			existing, gerr := b.ledger.GetDeliveryRecordByKey(ctx, key)
			if gerr != nil {
				return nil, false, errors.NewDatabaseError("get delivery record", gerr)
			}
			return existing, false, nil
		}
		return nil, false, errors.NewDatabaseError("insert delivery record", err)
	}
	rec, err = b.ledger.GetDeliveryRecordByKey(ctx, key)
	if err != nil {
		return nil, false, errors.NewDatabaseError("reload delivery record", err)
	}
	return rec, true, nil
}

// HandleInboundEvent processes a normalized provider webhook. Reply events
// become clinical Communication records; status events advance the delivery
// ledger. An event whose processing fails is persisted to the backlog, never
// dropped.
func (b *bridge) HandleInboundEvent(ctx context.Context, event *models.InboundEvent) (models.ProcessingOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.HandleInboundEvent")
	defer span.End()

	return b.handleInboundEvent(ctx, event, true)
}

func (b *bridge) handleInboundEvent(ctx context.Context, event *models.InboundEvent, backlogOnFailure bool) (models.ProcessingOutcome, error) {
	if err := validation.ValidateInboundEvent(event); err != nil {
		return "", err
	}

	var outcome models.ProcessingOutcome
	var err error
	switch event.Kind {
	case models.EventKindReply:
		outcome, err = b.handleReply(ctx, event)
		metrics.IncrementCounter("inbound_replies_total", map[string]string{"outcome": outcomeLabel(outcome, err)}, "Inbound reply events processed")
	case models.EventKindStatus:
		outcome, err = b.handleStatusUpdate(ctx, event)
		metrics.IncrementCounter("status_updates_total", map[string]string{"outcome": outcomeLabel(outcome, err)}, "Delivery status events processed")
	}

	if err != nil && backlogOnFailure {
		if qerr := b.ledger.EnqueueInboundBacklog(context.WithoutCancel(ctx), event, err.Error()); qerr != nil {
			b.logger.WithError(qerr).Error("Failed to persist inbound event to backlog")
			return outcome, err
		}
		metrics.IncrementCounter("inbound_backlogged_total", map[string]string{"kind": event.Kind}, "Inbound events persisted to the backlog")
		b.logger.WithError(err).WithField("kind", event.Kind).Warn("Inbound event deferred to backlog")
	}
	return outcome, err
}

func outcomeLabel(outcome models.ProcessingOutcome, err error) string {
	if err != nil {
		return "error"
	}
	return string(outcome)
}

// handleReply attributes an inbound SMS to a subject and records it. A sender
// with no subject on file is quarantined as an unresolved-sender record; an
// unreachable identity lookup is an error so the event lands in the backlog
// instead of being misfiled.
func (b *bridge) handleReply(ctx context.Context, event *models.InboundEvent) (models.ProcessingOutcome, error) {
	subjectID, err := b.identity.ResolveSubjectByPhone(ctx, event.FromPhone)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeIdentityUnresolved) {
			return b.quarantineReply(ctx, event)
		}
		return "", err
	}

	comm := &fhir.Communication{
		Status:   fhir.StatusCompleted,
		Category: []fhir.CodeableConcept{categoryConcept(fhir.CodeReceivedMessage)},
		Medium:   []fhir.CodeableConcept{mediumSMS()},
		Priority: "routine",
		Sender:   &fhir.Reference{Reference: "Patient/" + subjectID},
		Sent:     event.Timestamp.UTC().Format(time.RFC3339),
		Received: event.Timestamp.UTC().Format(time.RFC3339),
		Payload:  []fhir.Payload{{ContentString: event.Body}},
	}
	if event.ProviderSID != "" {
		comm.Identifier = []fhir.Identifier{{System: fhir.SystemMessageSID, Value: event.ProviderSID}}
	}

	if _, err := b.store.CreateCommunication(ctx, comm); err != nil {
		return "", err
	}
	b.logger.WithField("subjectID", subjectID).Info("Recorded inbound reply")
	return models.OutcomeRecorded, nil
}

// quarantineReply records a reply from an unknown sender without a subject
// reference. The message body is preserved, and the sender phone travels in
// an extension so staff can resolve it later.
func (b *bridge) quarantineReply(ctx context.Context, event *models.InboundEvent) (models.ProcessingOutcome, error) {
	comm := &fhir.Communication{
		Status:   fhir.StatusCompleted,
		Category: []fhir.CodeableConcept{categoryConcept(fhir.CodeUnresolvedSender)},
		Medium:   []fhir.CodeableConcept{mediumSMS()},
		Priority: "routine",
		Sent:     event.Timestamp.UTC().Format(time.RFC3339),
		Received: event.Timestamp.UTC().Format(time.RFC3339),
		Payload:  []fhir.Payload{{ContentString: event.Body}},
		Extension: []fhir.Extension{
			{URL: fhir.ExtensionSenderPhone, ValueString: event.FromPhone},
		},
	}
	if event.ProviderSID != "" {
		comm.Identifier = []fhir.Identifier{{System: fhir.SystemMessageSID, Value: event.ProviderSID}}
	}

	if _, err := b.store.CreateCommunication(ctx, comm); err != nil {
		return "", err
	}
	metrics.IncrementCounter("inbound_quarantined_total", nil, "Replies quarantined from unresolved senders")
	b.logger.WithField("fromPhone", event.FromPhone).Warn("Quarantined reply from unresolved sender")
	return models.OutcomeQuarantined, nil
}

// handleStatusUpdate applies a provider delivery receipt to the ledger.
// Updates only ever move a record forward; stale or duplicate receipts are
// acknowledged and ignored.
func (b *bridge) handleStatusUpdate(ctx context.Context, event *models.InboundEvent) (models.ProcessingOutcome, error) {
	rec, err := b.ledger.GetDeliveryRecordByProviderSID(ctx, event.ProviderSID)
	if err != nil {
		return "", errors.NewDatabaseError("get delivery record by provider sid", err)
	}
	if rec == nil {
		// The receipt may have raced the submit's ledger write. The backlog
		// replay during reconcile gets a second look once the record exists.
		b.logger.WithField("providerSID", event.ProviderSID).Warn("Status update for unknown provider message id")
		return models.OutcomeUnknownReference, errors.New(errors.ErrCodeNotFound, "no delivery record for provider message id").
			WithContext("provider_sid", event.ProviderSID)
	}

	target, ok := models.StatusFromProvider(event.ProviderStatus)
	if !ok {
		return "", errors.NewValidationError("providerStatus",
			fmt.Sprintf("unknown provider status %q", event.ProviderStatus))
	}

	// The lock covers only the ledger read and transition. The clinical
	// store write below happens after release so concurrent receipts for
	// the same key never wait on the network.
	unlock := b.locks.Lock(rec.IdempotencyKey)

	current, err := b.ledger.GetDeliveryRecordByKey(ctx, rec.IdempotencyKey)
	if err != nil {
		unlock()
		return "", errors.NewDatabaseError("get delivery record", err)
	}
	if target.Rank() <= current.Status.Rank() || !models.CanTransition(current.Status, target) {
		unlock()
		b.logger.WithFields(logrus.Fields{
			"providerSID": event.ProviderSID,
			"current":     current.Status,
			"attempted":   target,
		}).Debug("Ignoring stale status update")
		return models.OutcomeIgnoredStale, nil
	}

	ok, err = b.ledger.TransitionStatus(ctx, rec.IdempotencyKey, current.Status, target)
	unlock()
	if err != nil {
		return "", errors.NewDatabaseError("transition status", err)
	}
	if !ok {
		return models.OutcomeIgnoredStale, nil
	}

	b.logger.WithFields(logrus.Fields{
		"providerSID": event.ProviderSID,
		"from":        current.Status,
		"to":          target,
	}).Info("Applied delivery status update")

	b.syncCommunicationStatus(ctx, current, target)
	return models.OutcomeUpdated, nil
}

// syncCommunicationStatus mirrors a terminal ledger transition onto the
// clinical Communication record. Failures here are logged only; the ledger is
// the source of truth for delivery state.
func (b *bridge) syncCommunicationStatus(ctx context.Context, rec *models.DeliveryRecord, target models.DeliveryStatus) {
	if rec.CommunicationID == nil {
		return
	}
	var commStatus string
	switch target {
	case models.DeliveryStatusDelivered:
		commStatus = fhir.StatusCompleted
	case models.DeliveryStatusUndeliverable, models.DeliveryStatusFailed:
		commStatus = fhir.StatusNotDone
	default:
		return
	}
	if err := b.store.UpdateCommunicationStatus(ctx, *rec.CommunicationID, commStatus); err != nil {
		b.logger.WithError(err).WithField("communicationID", *rec.CommunicationID).
			Warn("Failed to sync communication status to clinical store")
	}
}

// Reconcile repairs drift between the ledger, the provider and the clinical
// store: it polls the provider for records stuck in submitted status, backfills
// missing Communication records, and replays the inbound backlog. A zero
// window reconciles everything up to the staleness cutoff.
func (b *bridge) Reconcile(ctx context.Context, windowStart, windowEnd time.Time) (*models.ReconciliationReport, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.Reconcile")
	defer span.End()

	report := &models.ReconciliationReport{WindowStart: windowStart, WindowEnd: windowEnd}
	cutoff := time.Now().UTC().Add(-b.staleThreshold)
	if !windowEnd.IsZero() && windowEnd.Before(cutoff) {
		cutoff = windowEnd
	}

	stale, err := b.ledger.ListStaleSubmitted(ctx, cutoff, b.reconcileLimit)
	if err != nil {
		return nil, errors.NewDatabaseError("list stale submitted", err)
	}
	for _, rec := range stale {
		if !windowStart.IsZero() && rec.SubmittedAt != nil && rec.SubmittedAt.Before(windowStart) {
			continue
		}
		report.Checked++
		if rec.ProviderSID == nil {
			continue
		}
		msg, err := b.sms.GetMessage(ctx, *rec.ProviderSID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("poll %s: %v", *rec.ProviderSID, err))
			continue
		}
		outcome, err := b.handleInboundEvent(ctx, &models.InboundEvent{
			Kind:           models.EventKindStatus,
			ProviderSID:    msg.SID,
			ProviderStatus: msg.Status,
			Timestamp:      time.Now(),
		}, false)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("apply %s: %v", msg.SID, err))
			continue
		}
		if outcome == models.OutcomeUpdated {
			report.Updated++
		}
	}

	missing, err := b.ledger.ListMissingCommunication(ctx, b.reconcileLimit)
	if err != nil {
		return nil, errors.NewDatabaseError("list missing communications", err)
	}
	for _, rec := range missing {
		if b.repairCommunication(ctx, rec) {
			report.Repaired++
		} else {
			report.Errors = append(report.Errors, fmt.Sprintf("repair communication for %s failed", rec.IdempotencyKey))
		}
	}

	backlog, err := b.ledger.ListUnprocessedBacklog(ctx, b.reconcileLimit)
	if err != nil {
		return nil, errors.NewDatabaseError("list backlog", err)
	}
	for _, entry := range backlog {
		report.Checked++
		event := entry.Event
		if _, err := b.handleInboundEvent(ctx, &event, false); err != nil {
			if terr := b.ledger.TouchBacklogAttempt(ctx, entry.ID); terr != nil {
				b.logger.WithError(terr).Error("Failed to update backlog attempt count")
			}
			report.Errors = append(report.Errors, fmt.Sprintf("replay backlog %d: %v", entry.ID, err))
			continue
		}
		if err := b.ledger.MarkBacklogProcessed(ctx, entry.ID); err != nil {
			b.logger.WithError(err).Error("Failed to mark backlog entry processed")
			continue
		}
		report.Updated++
	}

	if count, err := b.ledger.CountStaleSubmitted(ctx, time.Now().UTC().Add(-b.staleThreshold)); err == nil {
		metrics.SetGauge("reconcile_stale_submitted", float64(count), nil, "Records stuck in submitted status")
	}
	metrics.IncrementCounter("reconcile_runs_total", nil, "Reconcile passes completed")

	b.logger.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"updated":  report.Updated,
		"repaired": report.Repaired,
		"errors":   len(report.Errors),
	}).Info("Reconcile pass complete")
	return report, nil
}

// repairCommunication backfills the Communication record for an accepted send
// whose clinical write was lost.
func (b *bridge) repairCommunication(ctx context.Context, rec *models.DeliveryRecord) bool {
	intent := &models.OutboundMessageIntent{
		IdempotencyKey: rec.IdempotencyKey,
		SubjectID:      rec.SubjectID,
		Body:           rec.Body,
		RequestRef:     rec.RequestRef,
	}
	sid := ""
	if rec.ProviderSID != nil {
		sid = *rec.ProviderSID
	}
	comm := b.buildOutboundCommunication(intent, rec, sid)
	if rec.Status == models.DeliveryStatusDelivered {
		comm.Status = fhir.StatusCompleted
	}

	commID, err := b.store.CreateCommunication(ctx, comm)
	if err != nil {
		b.logger.WithError(err).WithField("idempotencyKey", rec.IdempotencyKey).
			Warn("Communication repair failed")
		return false
	}
	if err := b.ledger.SetCommunicationID(ctx, rec.IdempotencyKey, commID); err != nil {
		b.logger.WithError(err).Error("Failed to record repaired communication id")
		return false
	}
	metrics.IncrementCounter("communications_repaired_total", nil, "Communication records backfilled by reconcile")
	return true
}

// ExecuteDueRequests finds active CommunicationRequests whose occurrence time
// has passed, submits each through the bridge, and marks them completed in the
// clinical store.
func (b *bridge) ExecuteDueRequests(ctx context.Context) (*models.ExecutionReport, error) {
	ctx, span := tracing.StartSpan(ctx, "bridge.ExecuteDueRequests")
	defer span.End()

	report := &models.ExecutionReport{Failed: map[string]string{}}
	due, err := b.store.SearchDueCommunicationRequests(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	for _, cr := range due {
		if cr.ID == "" {
			continue
		}
		log := b.logger.WithField("requestID", cr.ID)
		if _, sent := cr.MessageSID(); sent {
			log.Warn("Due request already carries a provider message id, completing without resend")
			b.completeRequest(ctx, cr, "")
			continue
		}

		intent, err := intentFromRequest(cr)
		if err != nil {
			report.Failed[cr.ID] = err.Error()
			log.WithError(err).Error("Due request is not executable")
			continue
		}

		rec, err := b.Submit(ctx, intent)
		if err != nil {
			report.Failed[cr.ID] = err.Error()
			log.WithError(err).Error("Failed to execute due request")
			continue
		}

		sid := ""
		if rec.ProviderSID != nil {
			sid = *rec.ProviderSID
		}
		b.completeRequest(ctx, cr, sid)
		report.Succeeded = append(report.Succeeded, cr.ID)
	}

	metrics.AddToCounter("requests_executed_total", float64(len(report.Succeeded)), nil, "Due communication requests executed")
	return report, nil
}

// completeRequest marks a CommunicationRequest completed and stamps the
// provider message id on it so a rerun skips it.
func (b *bridge) completeRequest(ctx context.Context, cr *fhir.CommunicationRequest, sid string) {
	cr.Status = fhir.StatusCompleted
	if sid != "" {
		cr.Identifier = append(cr.Identifier, fhir.Identifier{System: fhir.SystemMessageSID, Value: sid})
	}
	if err := b.store.UpdateCommunicationRequest(ctx, cr); err != nil {
		b.logger.WithError(err).WithField("requestID", cr.ID).
			Error("Failed to mark communication request completed")
	}
}

// CleanupOldRecords enforces the ledger retention period.
func (b *bridge) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if err := b.ledger.CleanupOldRecords(ctx, retentionDays); err != nil {
		return errors.NewDatabaseError("cleanup old records", err)
	}
	return nil
}

// intentFromRequest converts a due CommunicationRequest into a submission
// intent. The request id doubles as the idempotency key.
func intentFromRequest(cr *fhir.CommunicationRequest) (*models.OutboundMessageIntent, error) {
	if len(cr.Recipient) == 0 {
		return nil, errors.NewValidationError("recipient", "communication request has no recipient")
	}
	ref := cr.Recipient[0].Reference
	if !strings.HasPrefix(ref, "Patient/") {
		return nil, errors.NewValidationError("recipient", "communication request recipient is not a Patient reference")
	}
	subjectID := strings.TrimPrefix(ref, "Patient/")
	if subjectID == "" {
		return nil, errors.NewValidationError("recipient", "communication request recipient reference has no id")
	}
	body := cr.BodyText()
	if body == "" {
		return nil, errors.NewValidationError("payload", "communication request has no payload text")
	}

	intent := &models.OutboundMessageIntent{
		IdempotencyKey: cr.ID,
		SubjectID:      subjectID,
		Body:           body,
		Priority:       cr.Priority,
		RequestRef:     "CommunicationRequest/" + cr.ID,
		Manual:         hasCategory(cr.Category, fhir.CodeManualSentMessage),
	}
	if cr.Requester != nil {
		intent.Requester = cr.Requester.Reference
	}
	return intent, nil
}

func hasCategory(categories []fhir.CodeableConcept, code string) bool {
	for _, cat := range categories {
		for _, coding := range cat.Coding {
			if coding.System == fhir.SystemCommunicationType && coding.Code == code {
				return true
			}
		}
	}
	return false
}

// buildOutboundCommunication renders the clinical record for an outbound send.
func (b *bridge) buildOutboundCommunication(intent *models.OutboundMessageIntent, rec *models.DeliveryRecord, sid string) *fhir.Communication {
	category := fhir.CodeAutoSentMessage
	if intent.Manual {
		category = fhir.CodeManualSentMessage
	}
	priority := intent.Priority
	if priority == "" {
		priority = "routine"
	}

	comm := &fhir.Communication{
		Status:    fhir.StatusInProgress,
		Category:  []fhir.CodeableConcept{categoryConcept(category)},
		Medium:    []fhir.CodeableConcept{mediumSMS()},
		Priority:  priority,
		Recipient: []fhir.Reference{{Reference: "Patient/" + rec.SubjectID}},
		Sent:      time.Now().UTC().Format(time.RFC3339),
		Payload:   []fhir.Payload{{ContentString: rec.Body}},
	}
	if sid != "" {
		comm.Identifier = []fhir.Identifier{{System: fhir.SystemMessageSID, Value: sid}}
	}
	if rec.RequestRef != "" {
		comm.BasedOn = []fhir.Reference{{Reference: rec.RequestRef}}
	}
	if intent.Requester != "" {
		comm.Sender = &fhir.Reference{Reference: intent.Requester}
	}
	return comm
}

func categoryConcept(code string) fhir.CodeableConcept {
	return fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemCommunicationType, Code: code}}}
}

func mediumSMS() fhir.CodeableConcept {
	return fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemParticipationMode, Code: fhir.MediumSMSWritten}}}
}
