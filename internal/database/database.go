package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"caresms/internal/migrations"
	"caresms/internal/models"
	"caresms/internal/validation"

	"github.com/mattn/go-sqlite3"
)

// Database is the durable delivery ledger. It is the only shared mutable
// state in the bridge core; status transitions go through compare-and-set
// updates so concurrent webhook handlers cannot interleave inconsistently.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

// ErrDuplicateKey is returned by InsertDeliveryRecord when a record with the
// same idempotency key already exists.
var ErrDuplicateKey = errors.New("delivery record already exists for idempotency key")

func New(dbPath string) (*Database, error) {
	if err := validation.ValidateStorePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// InsertDeliveryRecord creates the ledger row for a new outbound attempt.
// The UNIQUE constraint on idempotency_key is the idempotency reservation:
// a concurrent duplicate insert surfaces as ErrDuplicateKey.
func (d *Database) InsertDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error {
	phone, err := d.encryptor.encrypt(rec.ToPhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}
	body, err := d.encryptor.encrypt(rec.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %w", err)
	}

	_, err = d.db.ExecContext(ctx, insertDeliveryRecordQuery,
		rec.IdempotencyKey,
		rec.ProviderSID,
		rec.SubjectID,
		phone,
		body,
		rec.RequestRef,
		rec.CommunicationID,
		rec.Status,
		rec.LastError,
		rec.RetryCount,
		rec.SubmittedAt,
		rec.TerminalAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateKey
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

// GetDeliveryRecordByKey returns the record for an idempotency key, or nil
// when none exists.
func (d *Database) GetDeliveryRecordByKey(ctx context.Context, key string) (*models.DeliveryRecord, error) {
	return d.scanDeliveryRecord(d.db.QueryRowContext(ctx, selectDeliveryRecordByKeyQuery, key))
}

// GetDeliveryRecordByProviderSID returns the record for a provider message
// identifier, or nil when none exists.
func (d *Database) GetDeliveryRecordByProviderSID(ctx context.Context, sid string) (*models.DeliveryRecord, error) {
	return d.scanDeliveryRecord(d.db.QueryRowContext(ctx, selectDeliveryRecordByProviderSIDQuery, sid))
}

// TransitionStatus atomically moves a record from one status to another.
// Returns false without error when the row no longer holds the expected
// status, which callers treat as a lost race (another handler got there
// first) or a stale update.
func (d *Database) TransitionStatus(ctx context.Context, key string, from, to models.DeliveryStatus) (bool, error) {
	var submittedAt, terminalAt *time.Time
	now := time.Now().UTC()
	if to == models.DeliveryStatusSubmitted {
		submittedAt = &now
	}
	if to.IsTerminal() || to == models.DeliveryStatusFailed {
		terminalAt = &now
	}

	res, err := d.db.ExecContext(ctx, transitionStatusQuery, to, submittedAt, terminalAt, key, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (d *Database) SetProviderSID(ctx context.Context, key, sid string) error {
	if _, err := d.db.ExecContext(ctx, setProviderSIDQuery, sid, key); err != nil {
		return fmt.Errorf("failed to set provider sid: %w", err)
	}
	return nil
}

func (d *Database) SetCommunicationID(ctx context.Context, key, communicationID string) error {
	if _, err := d.db.ExecContext(ctx, setCommunicationIDQuery, communicationID, key); err != nil {
		return fmt.Errorf("failed to set communication id: %w", err)
	}
	return nil
}

func (d *Database) SetLastError(ctx context.Context, key, message string) error {
	if _, err := d.db.ExecContext(ctx, setLastErrorQuery, message, key); err != nil {
		return fmt.Errorf("failed to set last error: %w", err)
	}
	return nil
}

func (d *Database) IncrementRetryCount(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, incrementRetryCountQuery, key); err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

// ListStaleSubmitted returns records stuck in submitted status whose
// submission predates the given cutoff.
func (d *Database) ListStaleSubmitted(ctx context.Context, before time.Time, limit int) ([]*models.DeliveryRecord, error) {
	rows, err := d.db.QueryContext(ctx, selectStaleSubmittedQuery, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale records: %w", err)
	}
	defer rows.Close()
	return d.collectDeliveryRecords(rows)
}

// ListMissingCommunication returns accepted records whose clinical
// Communication write has not landed yet.
func (d *Database) ListMissingCommunication(ctx context.Context, limit int) ([]*models.DeliveryRecord, error) {
	rows, err := d.db.QueryContext(ctx, selectMissingCommunicationQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records missing communications: %w", err)
	}
	defer rows.Close()
	return d.collectDeliveryRecords(rows)
}

// CountStaleSubmitted returns how many records are stuck in submitted status
// past the cutoff, for the reconcile gauge.
func (d *Database) CountStaleSubmitted(ctx context.Context, before time.Time) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, countStaleSubmittedQuery, before.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stale records: %w", err)
	}
	return n, nil
}

// CleanupOldRecords deletes terminal ledger rows and processed backlog
// entries older than the retention period.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if _, err := d.db.ExecContext(ctx, deleteOldDeliveryRecordsQuery, retentionDays); err != nil {
		return fmt.Errorf("failed to delete old delivery records: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, deleteOldBacklogQuery, retentionDays); err != nil {
		return fmt.Errorf("failed to delete old backlog entries: %w", err)
	}
	return nil
}

// EnqueueInboundBacklog persists an inbound event whose processing failed so
// the reconcile pass can replay it.
func (d *Database) EnqueueInboundBacklog(ctx context.Context, event *models.InboundEvent, reason string) error {
	phone, err := d.encryptor.encrypt(event.FromPhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}
	body, err := d.encryptor.encrypt(event.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %w", err)
	}

	var eventTime *time.Time
	if !event.Timestamp.IsZero() {
		t := event.Timestamp.UTC()
		eventTime = &t
	}

	_, err = d.db.ExecContext(ctx, insertInboundBacklogQuery,
		event.Kind, phone, body, event.ProviderSID, event.ProviderStatus,
		eventTime, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue backlog entry: %w", err)
	}
	return nil
}

// ListUnprocessedBacklog returns pending backlog entries oldest first.
func (d *Database) ListUnprocessedBacklog(ctx context.Context, limit int) ([]*models.InboundBacklogEntry, error) {
	rows, err := d.db.QueryContext(ctx, selectUnprocessedBacklogQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	defer rows.Close()

	var entries []*models.InboundBacklogEntry
	for rows.Next() {
		entry := &models.InboundBacklogEntry{}
		var phone, body string
		var eventTime sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.Event.Kind, &phone, &body,
			&entry.Event.ProviderSID, &entry.Event.ProviderStatus,
			&eventTime, &entry.Reason, &entry.AttemptCount); err != nil {
			return nil, fmt.Errorf("failed to scan backlog entry: %w", err)
		}
		if entry.Event.FromPhone, err = d.encryptor.decrypt(phone); err != nil {
			return nil, fmt.Errorf("failed to decrypt phone: %w", err)
		}
		if entry.Event.Body, err = d.encryptor.decrypt(body); err != nil {
			return nil, fmt.Errorf("failed to decrypt body: %w", err)
		}
		if eventTime.Valid {
			entry.Event.Timestamp = eventTime.Time
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkBacklogProcessed flags an entry as replayed.
func (d *Database) MarkBacklogProcessed(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, markBacklogProcessedQuery, id); err != nil {
		return fmt.Errorf("failed to mark backlog processed: %w", err)
	}
	return nil
}

// TouchBacklogAttempt records another failed replay attempt.
func (d *Database) TouchBacklogAttempt(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, touchBacklogAttemptQuery, id); err != nil {
		return fmt.Errorf("failed to touch backlog attempt: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanDeliveryRecord(row rowScanner) (*models.DeliveryRecord, error) {
	rec := &models.DeliveryRecord{}
	var phone, body string
	var submittedAt, terminalAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.IdempotencyKey, &rec.ProviderSID, &rec.SubjectID,
		&phone, &body, &rec.RequestRef, &rec.CommunicationID, &rec.Status,
		&rec.LastError, &rec.RetryCount, &submittedAt, &terminalAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery record: %w", err)
	}

	if rec.ToPhone, err = d.encryptor.decrypt(phone); err != nil {
		return nil, fmt.Errorf("failed to decrypt phone: %w", err)
	}
	if rec.Body, err = d.encryptor.decrypt(body); err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %w", err)
	}
	if submittedAt.Valid {
		rec.SubmittedAt = &submittedAt.Time
	}
	if terminalAt.Valid {
		rec.TerminalAt = &terminalAt.Time
	}
	return rec, nil
}

func (d *Database) collectDeliveryRecords(rows *sql.Rows) ([]*models.DeliveryRecord, error) {
	var records []*models.DeliveryRecord
	for rows.Next() {
		rec, err := d.scanDeliveryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
