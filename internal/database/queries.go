package database

// Delivery record queries
const (
	insertDeliveryRecordQuery = `
		INSERT INTO delivery_records (
			idempotency_key, provider_sid, subject_id, to_phone, body,
			request_ref, communication_id, status, last_error, retry_count,
			submitted_at, terminal_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectDeliveryRecordColumns = `
		SELECT id, idempotency_key, provider_sid, subject_id, to_phone, body,
		       request_ref, communication_id, status, last_error, retry_count,
		       submitted_at, terminal_at, created_at, updated_at
		FROM delivery_records
	`

	selectDeliveryRecordByKeyQuery = selectDeliveryRecordColumns + `
		WHERE idempotency_key = ?
	`

	selectDeliveryRecordByProviderSIDQuery = selectDeliveryRecordColumns + `
		WHERE provider_sid = ?
	`

	// Compare-and-set transition: only applies when the row still holds the
	// expected status, making concurrent webhook application safe.
	transitionStatusQuery = `
		UPDATE delivery_records
		SET status = ?, submitted_at = COALESCE(?, submitted_at),
		    terminal_at = COALESCE(?, terminal_at)
		WHERE idempotency_key = ? AND status = ?
	`

	setProviderSIDQuery = `
		UPDATE delivery_records
		SET provider_sid = ?
		WHERE idempotency_key = ?
	`

	setCommunicationIDQuery = `
		UPDATE delivery_records
		SET communication_id = ?
		WHERE idempotency_key = ?
	`

	setLastErrorQuery = `
		UPDATE delivery_records
		SET last_error = ?
		WHERE idempotency_key = ?
	`

	incrementRetryCountQuery = `
		UPDATE delivery_records
		SET retry_count = retry_count + 1
		WHERE idempotency_key = ?
	`

	selectStaleSubmittedQuery = selectDeliveryRecordColumns + `
		WHERE status = 'submitted'
		  AND submitted_at IS NOT NULL
		  AND submitted_at < ?
		ORDER BY submitted_at ASC
		LIMIT ?
	`

	selectMissingCommunicationQuery = selectDeliveryRecordColumns + `
		WHERE status IN ('submitted', 'delivered')
		  AND communication_id IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`

	countStaleSubmittedQuery = `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE status = 'submitted' AND submitted_at IS NOT NULL AND submitted_at < ?
	`

	deleteOldDeliveryRecordsQuery = `
		DELETE FROM delivery_records
		WHERE terminal_at IS NOT NULL
		  AND terminal_at < datetime('now', '-' || ? || ' days')
	`
)

// Inbound backlog queries
const (
	insertInboundBacklogQuery = `
		INSERT INTO inbound_backlog (
			kind, from_phone, body, provider_sid, provider_status,
			event_time, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectUnprocessedBacklogQuery = `
		SELECT id, kind, from_phone, body, provider_sid, provider_status,
		       event_time, reason, attempt_count
		FROM inbound_backlog
		WHERE processed = 0
		ORDER BY created_at ASC
		LIMIT ?
	`

	markBacklogProcessedQuery = `
		UPDATE inbound_backlog
		SET processed = 1
		WHERE id = ?
	`

	touchBacklogAttemptQuery = `
		UPDATE inbound_backlog
		SET attempt_count = attempt_count + 1
		WHERE id = ?
	`

	deleteOldBacklogQuery = `
		DELETE FROM inbound_backlog
		WHERE processed = 1
		  AND updated_at < datetime('now', '-' || ? || ' days')
	`
)
