// Package policystore provides typed accessors over the relational store
// that backs per-recipient policy: address resolution, sender whitelist
// checks, quota counters, message bookkeeping, and the best-effort audit
// log.
package policystore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aksiksi/vaulty/internal/mimemodel"
	"github.com/aksiksi/vaulty/internal/sanitizer"
	"github.com/aksiksi/vaulty/internal/storage"
)

// Severity is the audit-log row's severity, mapped one-to-one onto
// slog.Level rather than introducing a parallel vocabulary.
type Severity string

const (
	SeverityDebug   Severity = "Debug"
	SeverityInfo    Severity = "Info"
	SeverityWarning Severity = "Warning"
	SeverityError   Severity = "Error"
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AddressRecord is the per-recipient policy row.
type AddressRecord struct {
	Address           string          `db:"address"`
	UserID            uuid.UUID       `db:"user_id"`
	AddressID         uuid.UUID       `db:"id"`
	MaxEmailSize      int64           `db:"max_email_size"`
	EmailQuota        int64           `db:"email_quota"`
	NumReceived       int64           `db:"num_received"`
	StorageQuota      int64           `db:"storage_quota"`
	StorageUsed       int64           `db:"storage_used"`
	StorageBackend    string          `db:"storage_backend"`
	StorageToken      string          `db:"storage_token"`
	StoragePath       string          `db:"storage_path"`
	LastTokenRenewal  sql.NullTime    `db:"last_token_renewal"`
	WhitelistEnabled  bool            `db:"whitelist_enabled"`
	IsActive          bool            `db:"is_active"`
}

// Backend resolves the record's raw storage_backend column to a typed
// Backend, coercing unrecognized values per the forward-compatibility
// rule in package storage.
func (a *AddressRecord) Backend(logger *slog.Logger) storage.Backend {
	return storage.Coerce(logger, a.StorageBackend)
}

// Store is the Policy Store contract the Ingestion Controllers depend on.
type Store interface {
	ResolveRecipient(ctx context.Context, candidates []string) (*AddressRecord, error)
	ValidateSender(ctx context.Context, addr *AddressRecord, sender string) (bool, error)
	InsertMessage(ctx context.Context, msg *mimemodel.Message, addr *AddressRecord) error
	UpdateMessageStatus(ctx context.Context, msgUUID uuid.UUID, ok bool, msg string)
	UpdateStorageUsed(ctx context.Context, addr *AddressRecord, deltaBytes int64, incrementReceived bool) error
	Log(ctx context.Context, severity Severity, text string, msgUUID *uuid.UUID)
}

// PgStore is the PostgreSQL-backed implementation, built over sqlx for
// its struct-scanning ergonomics (the teacher's own repository package
// uses the same pairing for its CRUD-heavy tables).
type PgStore struct {
	db        *sqlx.DB
	logger    *slog.Logger
	sanitizer sanitizer.HTMLSanitizer

	// onBestEffortFailure is called with the operation name for each
	// swallowed log/status-update error, per the observability
	// recommendation in the design notes. Supplied from the metrics
	// package by the caller; nil is a valid no-op.
	onBestEffortFailure func(operation string)
}

// NewPgStore builds a PgStore over an already-connected sqlx.DB.
func NewPgStore(db *sqlx.DB, logger *slog.Logger, onBestEffortFailure func(operation string)) *PgStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgStore{
		db:                  db,
		logger:              logger,
		sanitizer:           sanitizer.NewHTMLSanitizer(),
		onBestEffortFailure: onBestEffortFailure,
	}
}

// ResolveRecipient returns the first address row among candidates that
// matches, or nil if none do.
func (s *PgStore) ResolveRecipient(ctx context.Context, candidates []string) (*AddressRecord, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, address, max_email_size, email_quota, num_received,
		       storage_quota, storage_used, storage_backend, storage_token,
		       storage_path, last_token_renewal, whitelist_enabled, is_active
		FROM addresses
		WHERE address = ANY($1) AND is_active = true
		ORDER BY array_position($1, address)
		LIMIT 1`

	var rec AddressRecord
	if err := s.db.GetContext(ctx, &rec, query, candidates); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ValidateSender reports whether sender is allowed to deliver to addr:
// true when the whitelist is disabled, or when sender is a whitelist
// member. A false result is a policy outcome, not an error.
func (s *PgStore) ValidateSender(ctx context.Context, addr *AddressRecord, sender string) (bool, error) {
	if !addr.WhitelistEnabled {
		return true, nil
	}

	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM address_whitelist
		WHERE address_id = $1 AND sender = $2`, addr.AddressID, sender)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertMessage upserts a message row keyed by UUID, idempotent on
// retries from the filter.
func (s *PgStore) InsertMessage(ctx context.Context, msg *mimemodel.Message, addr *AddressRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			uuid, user_id, address_id, sender, subject, message_id,
			size, num_attachments, status, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, NULL, now())
		ON CONFLICT (uuid) DO NOTHING`,
		msg.UUID, addr.UserID, addr.AddressID, msg.Sender, msg.Subject,
		nullableString(msg.MessageID), msg.Size, msg.AttachmentCount)
	return err
}

// UpdateMessageStatus is best-effort: failures are logged locally and
// never returned to the caller.
func (s *PgStore) UpdateMessageStatus(ctx context.Context, msgUUID uuid.UUID, ok bool, msg string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = $2, error = $3 WHERE uuid = $1`,
		msgUUID, ok, nullableString(msg))
	if err != nil {
		s.logger.Warn("failed to update message status", slog.String("uuid", msgUUID.String()), slog.Any("error", err))
		s.bestEffortFailed("update_message_status")
	}
}

// UpdateStorageUsed atomically adds deltaBytes to storage_used and,
// optionally, increments num_received by one. Both counters are
// monotonic non-decreasing for the lifetime of the address.
func (s *PgStore) UpdateStorageUsed(ctx context.Context, addr *AddressRecord, deltaBytes int64, incrementReceived bool) error {
	var query string
	if incrementReceived {
		query = `UPDATE addresses SET storage_used = storage_used + $2, num_received = num_received + 1 WHERE id = $1`
	} else {
		query = `UPDATE addresses SET storage_used = storage_used + $2 WHERE id = $1`
	}
	_, err := s.db.ExecContext(ctx, query, addr.AddressID, deltaBytes)
	if err != nil {
		return err
	}
	addr.StorageUsed += deltaBytes
	if incrementReceived {
		addr.NumReceived++
	}
	return nil
}

// Log writes a best-effort audit row; a failure here never aborts
// message processing. text often embeds attacker-controlled input (a
// message subject, a rejection reason quoting a header) that ends up
// rendered as HTML in an admin dashboard, so it is sanitized before
// either the structured log write or the persisted row.
func (s *PgStore) Log(ctx context.Context, severity Severity, text string, msgUUID *uuid.UUID) {
	text = s.sanitizer.Sanitize(text)

	s.logger.Log(ctx, severity.slogLevel(), text, slog.Any("message_uuid", msgUUID))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (message_uuid, message, severity, created_at)
		VALUES ($1, $2, $3, now())`, msgUUID, text, string(severity))
	if err != nil {
		s.logger.Warn("failed to write audit log row", slog.Any("error", err))
		s.bestEffortFailed("audit_log")
	}
}

func (s *PgStore) bestEffortFailed(operation string) {
	if s.onBestEffortFailure != nil {
		s.onBestEffortFailure(operation)
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
