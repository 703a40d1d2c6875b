// ABOUTME: Audit log entity and store methods for tracking trust and identity changes
// ABOUTME: Records which account changed which fingerprint or key, and when

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditVerify   AuditAction = "verify"
	AuditUnverify AuditAction = "unverify"
	AuditForget   AuditAction = "forget"
	AuditKeygen   AuditAction = "keygen"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditVerify,
	AuditUnverify,
	AuditForget,
	AuditKeygen,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID          string         // UUID v4
	Account     string         // local account the change applies to
	Peer        string         // remote peer, empty for account-wide actions
	Action      AuditAction    // what action was performed
	Fingerprint string         // affected fingerprint, if any
	Timestamp   time.Time      // when it happened
	Detail      map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since   *time.Time   // entries after this time
	Account *string      // filter by account
	Action  *AuditAction // filter by action type
	Limit   int          // max results (default 100, max 1000)
}

// AuditLog records trust administration.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

var _ AuditLog = (*SQLiteStore)(nil)

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO otr_audit_log (audit_id, account, peer, action, fingerprint, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Account,
		e.Peer,
		e.Action,
		e.Fingerprint,
		e.Timestamp.UTC().Format(auditTimeFormat),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"account", e.Account,
		"action", e.Action,
	)
	return nil
}

// auditTimeFormat is fixed width so timestamps sort lexically.
const auditTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.Account,
		&e.Peer,
		&actionStr,
		&e.Fingerprint,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = time.Parse(auditTimeFormat, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, account, peer, action, fingerprint, ts, detail_json
	FROM otr_audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR account = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var since, action *string
	if f.Since != nil {
		str := f.Since.UTC().Format(auditTimeFormat)
		since = &str
	}
	if f.Action != nil {
		str := string(*f.Action)
		action = &str
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		f.Account, f.Account,
		action, action,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
