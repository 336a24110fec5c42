package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// CallRecord represents a call record in the database
type CallRecord struct {
	ID              string    `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	SourceLang      string    `json:"source_lang"`
	TargetLang      string    `json:"target_lang"`
	Mode            string    `json:"mode"`
	State           string    `json:"state"`
	Reason          string    `json:"reason,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	DurationSecs    int64     `json:"duration_secs"`
	LegAInputTokens int64     `json:"leg_a_input_tokens"`
	LegAOutputTok   int64     `json:"leg_a_output_tokens"`
	LegBInputTokens int64     `json:"leg_b_input_tokens"`
	LegBOutputTok   int64     `json:"leg_b_output_tokens"`
	GuardrailTokens int64     `json:"guardrail_tokens"`
	TotalTokens     int64     `json:"total_tokens"`
}

// CallStorage handles storage of call records
type CallStorage struct {
	db       *sql.DB
	maxInAPI int
	logger   *logger.Logger
}

// NewCallStorage creates a new SQLite call storage at the given path
func NewCallStorage(dbPath string, maxInAPI int, log *logger.Logger) (*CallStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &CallStorage{
		db:       db,
		maxInAPI: maxInAPI,
		logger:   log.Named("sqlite-calls"),
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *CallStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			mode TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			duration_secs INTEGER NOT NULL DEFAULT 0,
			leg_a_input_tokens INTEGER NOT NULL DEFAULT 0,
			leg_a_output_tokens INTEGER NOT NULL DEFAULT 0,
			leg_b_input_tokens INTEGER NOT NULL DEFAULT 0,
			leg_b_output_tokens INTEGER NOT NULL DEFAULT 0,
			guardrail_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create calls table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at)`)
	if err != nil {
		return fmt.Errorf("failed to create started_at index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_state ON calls(state)`)
	if err != nil {
		return fmt.Errorf("failed to create state index: %w", err)
	}

	return nil
}

// RecordStart inserts the initial record for a newly registered call
func (s *CallStorage) RecordStart(call translation.Call) error {
	_, err := s.db.Exec(
		`INSERT INTO calls
		(id, phone_number, source_lang, target_lang, mode, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.ID,
		call.PhoneNumber,
		call.SourceLang,
		call.TargetLang,
		string(call.Mode),
		string(call.State),
		call.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}

	s.logger.Debug("Stored call start", String("call_id", call.ID))
	return nil
}

// RecordEnd finalizes a call record with its terminal state and token usage
func (s *CallStorage) RecordEnd(call translation.Call, usage cost.Snapshot) error {
	duration := int64(0)
	if !call.AnsweredAt.IsZero() && !call.EndedAt.IsZero() {
		duration = int64(call.EndedAt.Sub(call.AnsweredAt).Seconds())
	}

	result, err := s.db.Exec(
		`UPDATE calls SET
		state = ?, reason = ?, ended_at = ?, duration_secs = ?,
		leg_a_input_tokens = ?, leg_a_output_tokens = ?,
		leg_b_input_tokens = ?, leg_b_output_tokens = ?,
		guardrail_tokens = ?, total_tokens = ?
		WHERE id = ?`,
		string(call.State),
		string(call.Reason),
		call.EndedAt.Format(time.RFC3339),
		duration,
		usage.LegAInput,
		usage.LegAOutput,
		usage.LegBInput,
		usage.LegBOutput,
		usage.Guardrail,
		usage.Total(),
		call.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize call: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("call %s not found", call.ID)
	}

	s.logger.Debug("Stored call end",
		String("call_id", call.ID),
		String("state", string(call.State)))
	return nil
}

// GetCall returns one call record by ID
func (s *CallStorage) GetCall(id string) (*CallRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, phone_number, source_lang, target_lang, mode, state,
		COALESCE(reason, ''), started_at, COALESCE(ended_at, ''), duration_secs,
		leg_a_input_tokens, leg_a_output_tokens,
		leg_b_input_tokens, leg_b_output_tokens,
		guardrail_tokens, total_tokens
		FROM calls WHERE id = ?`, id)

	record, err := scanCallRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call: %w", err)
	}
	return record, nil
}

// GetRecentCalls returns the most recent call records, newest first
func (s *CallStorage) GetRecentCalls(limit int) ([]*CallRecord, error) {
	if limit <= 0 || limit > s.maxInAPI {
		limit = s.maxInAPI
	}

	rows, err := s.db.Query(
		`SELECT id, phone_number, source_lang, target_lang, mode, state,
		COALESCE(reason, ''), started_at, COALESCE(ended_at, ''), duration_secs,
		leg_a_input_tokens, leg_a_output_tokens,
		leg_b_input_tokens, leg_b_output_tokens,
		guardrail_tokens, total_tokens
		FROM calls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		record, err := scanCallRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanCallRecord(row scanner) (*CallRecord, error) {
	var record CallRecord
	var startedAt, endedAt string

	err := row.Scan(
		&record.ID,
		&record.PhoneNumber,
		&record.SourceLang,
		&record.TargetLang,
		&record.Mode,
		&record.State,
		&record.Reason,
		&startedAt,
		&endedAt,
		&record.DurationSecs,
		&record.LegAInputTokens,
		&record.LegAOutputTok,
		&record.LegBInputTokens,
		&record.LegBOutputTok,
		&record.GuardrailTokens,
		&record.TotalTokens,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		record.StartedAt = t
	}
	if endedAt != "" {
		if t, err := time.Parse(time.RFC3339, endedAt); err == nil {
			record.EndedAt = t
		}
	}
	return &record, nil
}

// GetDB returns the underlying database handle for shared use
func (s *CallStorage) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *CallStorage) Close() error {
	return s.db.Close()
}
