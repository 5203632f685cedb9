package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists calls and transcripts in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCallSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initCallSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			from_number TEXT NOT NULL DEFAULT '',
			to_number TEXT NOT NULL DEFAULT '',
			telephony_provider TEXT NOT NULL DEFAULT '',
			stt_provider TEXT NOT NULL DEFAULT '',
			stt_model TEXT NOT NULL DEFAULT '',
			llm_provider TEXT NOT NULL DEFAULT '',
			llm_model TEXT NOT NULL DEFAULT '',
			tts_provider TEXT NOT NULL DEFAULT '',
			tts_model TEXT NOT NULL DEFAULT '',
			recording_url TEXT NOT NULL DEFAULT '',
			recording_duration INTEGER NOT NULL DEFAULT 0,
			recording_format TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			error_reason TEXT NOT NULL DEFAULT '',
			telephony_duration INTEGER NOT NULL DEFAULT 0,
			stt_usage_seconds INTEGER NOT NULL DEFAULT 0,
			tts_usage_chars INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_status_created ON calls (status, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS call_transcripts (
			id BIGSERIAL PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			transcript TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_transcripts_call ON call_transcripts (call_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init call schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = StatusInitiated
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (
			id, status, prompt, language, from_number, to_number,
			telephony_provider, stt_provider, stt_model, llm_provider, llm_model,
			tts_provider, tts_model, summary, error_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'','',$14,$15)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, string(c.Status), c.Prompt, c.Language, c.FromNumber, c.ToNumber,
		c.Providers.Telephony, c.Providers.STTProvider, c.Providers.STTModel,
		c.Providers.LLMProvider, c.Providers.LLMModel,
		c.Providers.TTSProvider, c.Providers.TTSModel,
		c.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, prompt, language, from_number, to_number,
			telephony_provider, stt_provider, stt_model, llm_provider, llm_model,
			tts_provider, tts_model, recording_url, recording_duration,
			recording_format, summary, error_reason, telephony_duration,
			stt_usage_seconds, tts_usage_chars, created_at, updated_at
		FROM calls WHERE id = $1`, id)

	var c Call
	var status string
	err := row.Scan(&c.ID, &status, &c.Prompt, &c.Language, &c.FromNumber, &c.ToNumber,
		&c.Providers.Telephony, &c.Providers.STTProvider, &c.Providers.STTModel,
		&c.Providers.LLMProvider, &c.Providers.LLMModel,
		&c.Providers.TTSProvider, &c.Providers.TTSModel,
		&c.RecordingURL, &c.RecordingDuration, &c.RecordingFormat,
		&c.Summary, &c.ErrorReason, &c.TelephonyDuration,
		&c.STTUsageSeconds, &c.TTSUsageChars, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("select call: %w", err)
	}
	c.Status = Status(status)
	return c, nil
}

// UpdateStatus enforces the forward-only lifecycle in SQL so concurrent
// writers cannot regress a terminal call.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, string(status), string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.statusUpdateFailure(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET status = $2, error_reason = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, string(StatusFailed), reason, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("mark call failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.statusUpdateFailure(ctx, id)
	}
	return nil
}

func (s *PostgresStore) statusUpdateFailure(ctx context.Context, id string) error {
	if _, err := s.GetCall(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.updateField(ctx, id, `UPDATE calls SET summary = $2, updated_at = now() WHERE id = $1`, summary)
}

func (s *PostgresStore) UpdateRecording(ctx context.Context, id, url string, durationSec int, format string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET recording_url = $2, recording_duration = $3,
			recording_format = $4, updated_at = now()
		WHERE id = $1`,
		id, url, durationSec, format)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUsage(ctx context.Context, id string, durationSec, sttSeconds, ttsChars int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET telephony_duration = $2, stt_usage_seconds = $3,
			tts_usage_chars = $4, updated_at = now()
		WHERE id = $1`,
		id, durationSec, sttSeconds, ttsChars)
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddTranscript(ctx context.Context, t Transcript) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_transcripts (call_id, role, transcript, created_at)
		VALUES ($1,$2,$3,$4)`,
		t.CallID, string(t.Role), t.Text, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT call_id, role, transcript, created_at
		FROM call_transcripts WHERE call_id = $1 ORDER BY created_at`, callID)
	if err != nil {
		return nil, fmt.Errorf("select transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		var role string
		if err := rows.Scan(&t.CallID, &role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		t.Role = TranscriptRole(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) updateField(ctx context.Context, id, query string, arg any) error {
	tag, err := s.pool.Exec(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
