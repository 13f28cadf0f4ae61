package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists sessions in the call_sessions table. The primary key on
// call_id is what serializes concurrent first touches.
type PGStore struct {
	db  rowQuerier
	now func() time.Time
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("session: pgx pool required")
	}
	return &PGStore{db: pool, now: time.Now}
}

func newPGStoreWithQuerier(db rowQuerier, now func() time.Time) *PGStore {
	if db == nil {
		panic("session: querier required")
	}
	if now == nil {
		now = time.Now
	}
	return &PGStore{db: db, now: now}
}

var _ Store = (*PGStore)(nil)

const selectSessionSQL = `
	SELECT call_id, tenant_id, flow, state, collected, retry_counts, caller_number, version, created_at, updated_at
	FROM call_sessions
	WHERE call_id = $1
`

// GetOrCreate inserts a fresh session and, whether or not this caller won
// the insert, reads back the stored row.
func (s *PGStore) GetOrCreate(ctx context.Context, callID, tenantID string, seed Seed) (*Session, error) {
	fresh := New(callID, tenantID, seed, s.now())
	collected, counts, err := encodeState(fresh)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO call_sessions (call_id, tenant_id, flow, state, collected, retry_counts, caller_number, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
		ON CONFLICT (call_id) DO NOTHING
	`, fresh.CallID, fresh.TenantID, string(fresh.Flow), string(fresh.State), collected, counts, fresh.CallerNumber, fresh.CreatedAt)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("session: insert: %w", err)
	}
	return s.Get(ctx, fresh.CallID, fresh.TenantID)
}

func (s *PGStore) Get(ctx context.Context, callID, tenantID string) (*Session, error) {
	sess, err := s.scan(s.db.QueryRow(ctx, selectSessionSQL, strings.TrimSpace(callID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if sess.TenantID != strings.TrimSpace(tenantID) {
		return nil, ErrTenantMismatch
	}
	return sess, nil
}

func (s *PGStore) Save(ctx context.Context, sess *Session) error {
	collected, counts, err := encodeState(sess)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE call_sessions
		SET state = $1, collected = $2, retry_counts = $3, version = version + 1, updated_at = $4
		WHERE call_id = $5 AND tenant_id = $6 AND version = $7
	`, string(sess.State), collected, counts, now, sess.CallID, sess.TenantID, sess.Version)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	sess.Version++
	sess.UpdatedAt = now
	return nil
}

func (s *PGStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM call_sessions
		WHERE updated_at < $1 AND state NOT IN ('DONE', 'FAILED')
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("session: expire: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) scan(row pgx.Row) (*Session, error) {
	var (
		sess              Session
		flow, state       string
		collected, counts []byte
	)
	if err := row.Scan(&sess.CallID, &sess.TenantID, &flow, &state, &collected, &counts,
		&sess.CallerNumber, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Flow = slots.Flow(flow)
	sess.State = State(state)
	if len(collected) > 0 {
		if err := json.Unmarshal(collected, &sess.Collected); err != nil {
			return nil, fmt.Errorf("decode collected: %w", err)
		}
	}
	sess.RetryCounts = map[slots.Name]int{}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &sess.RetryCounts); err != nil {
			return nil, fmt.Errorf("decode retry counts: %w", err)
		}
	}
	return &sess, nil
}

func encodeState(sess *Session) ([]byte, []byte, error) {
	collected, err := json.Marshal(sess.Collected)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encode collected: %w", err)
	}
	counts := sess.RetryCounts
	if counts == nil {
		counts = map[slots.Name]int{}
	}
	encodedCounts, err := json.Marshal(counts)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encode retry counts: %w", err)
	}
	return collected, encodedCounts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
