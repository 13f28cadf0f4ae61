// Package transcript keeps a short-lived, per-call audit log of what the
// caller said and what the receptionist answered.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
	// RoleProvider marks a full transcript delivered by the voice platform
	// at the end of the call.
	RoleProvider = "provider"

	keyPrefix  = "transcript:"
	defaultTTL = 72 * time.Hour
)

// Entry is one line of a call transcript.
type Entry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store appends transcript entries to a Redis list per call.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// key is scoped by tenant so a call id can never surface another
// tenant's transcript.
func key(tenantID, callID string) string {
	return keyPrefix + tenantID + ":" + callID
}

// Append adds entries in order and refreshes the list's expiry.
func (s *Store) Append(ctx context.Context, tenantID, callID string, entries ...Entry) error {
	if tenantID == "" || callID == "" {
		return fmt.Errorf("transcript: tenant_id and call_id required")
	}
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("transcript: marshal: %w", err)
		}
		values = append(values, data)
	}
	k := key(tenantID, callID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, k, values...)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// Get returns the transcript of a call, oldest first.
func (s *Store) Get(ctx context.Context, tenantID, callID string) ([]Entry, error) {
	data, err := s.rdb.LRange(ctx, key(tenantID, callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("transcript: get: %w", err)
	}
	entries := make([]Entry, 0, len(data))
	for _, d := range data {
		var entry Entry
		if err := json.Unmarshal([]byte(d), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
