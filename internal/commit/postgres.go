package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGResultRepository writes orders and appointments. The unique
// constraint on (tenant_id, call_id) in both tables makes inserts
// idempotent.
type PGResultRepository struct {
	db txDB
}

func NewPGResultRepository(pool *pgxpool.Pool) *PGResultRepository {
	if pool == nil {
		panic("commit: pgx pool required")
	}
	return &PGResultRepository{db: pool}
}

func newPGResultRepositoryWithDB(db txDB) *PGResultRepository {
	return &PGResultRepository{db: db}
}

var _ ResultRepository = (*PGResultRepository)(nil)

func (r *PGResultRepository) InsertOrder(ctx context.Context, o Order) (string, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, tenant_id, call_id, delivery_type, address, customer_name, customer_phone, total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, call_id) DO NOTHING
		RETURNING id
	`, o.ID, o.TenantID, o.CallID, o.DeliveryType, nullString(o.Address), o.CustomerName, o.CustomerPhone, o.TotalCents, o.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		existing, lookupErr := r.existingID(ctx, "orders", o.TenantID, o.CallID)
		return existing, false, lookupErr
	}
	if err != nil {
		return "", false, fmt.Errorf("commit: insert order: %w", err)
	}

	for i, item := range o.Items {
		modifiers := item.Modifiers
		if modifiers == nil {
			modifiers = []string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product, quantity, unit_price_cents, modifiers, label)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, i, item.Product, item.Quantity, item.UnitPriceCents, modifiers, item.Label); err != nil {
			return "", false, fmt.Errorf("commit: insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit: commit order: %w", err)
	}
	return id, true, nil
}

func (r *PGResultRepository) InsertAppointment(ctx context.Context, a Appointment) (string, bool, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, call_id, service, appointment_date, appointment_time, customer_name, customer_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, call_id) DO NOTHING
		RETURNING id
	`, a.ID, a.TenantID, a.CallID, a.Service, a.Date, a.Time, a.CustomerName, a.CustomerPhone, a.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		existing, lookupErr := r.existingID(ctx, "appointments", a.TenantID, a.CallID)
		return existing, false, lookupErr
	}
	if err != nil {
		return "", false, fmt.Errorf("commit: insert appointment: %w", err)
	}
	return id, true, nil
}

// existingID reads back the row that won an earlier commit. table is one
// of the two fixed result tables.
func (r *PGResultRepository) existingID(ctx context.Context, table, tenantID, callID string) (string, error) {
	var id string
	query := fmt.Sprintf(`SELECT id FROM %s WHERE tenant_id = $1 AND call_id = $2`, table)
	if err := r.db.QueryRow(ctx, query, tenantID, callID).Scan(&id); err != nil {
		return "", fmt.Errorf("commit: load existing %s: %w", table, err)
	}
	return id, nil
}

// PGUsageRepository keeps monthly usage per tenant. usage_applied records
// which calls were already counted.
type PGUsageRepository struct {
	db txDB
}

func NewPGUsageRepository(pool *pgxpool.Pool) *PGUsageRepository {
	if pool == nil {
		panic("commit: pgx pool required")
	}
	return &PGUsageRepository{db: pool}
}

func newPGUsageRepositoryWithDB(db txDB) *PGUsageRepository {
	return &PGUsageRepository{db: db}
}

var _ UsageRepository = (*PGUsageRepository)(nil)

func (r *PGUsageRepository) Apply(ctx context.Context, d UsageDelta) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO usage_applied (tenant_id, call_id, month, seconds, settled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, d.TenantID, d.CallID, d.Month, d.Seconds, d.Settled)
	if err != nil {
		return false, fmt.Errorf("commit: mark usage applied: %w", err)
	}

	month, calls, seconds := d.Month, d.Calls, d.Seconds
	if tag.RowsAffected() == 0 {
		if !d.Settled {
			return false, nil
		}
		var prevSeconds int64
		var settled bool
		err := tx.QueryRow(ctx, `
			SELECT month, seconds, settled
			FROM usage_applied
			WHERE tenant_id = $1 AND call_id = $2
			FOR UPDATE
		`, d.TenantID, d.CallID).Scan(&month, &prevSeconds, &settled)
		if err != nil {
			return false, fmt.Errorf("commit: load applied usage: %w", err)
		}
		if settled {
			return false, nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE usage_applied SET seconds = $3, settled = TRUE
			WHERE tenant_id = $1 AND call_id = $2
		`, d.TenantID, d.CallID, d.Seconds); err != nil {
			return false, fmt.Errorf("commit: settle usage: %w", err)
		}
		calls, seconds = 0, d.Seconds-prevSeconds
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_records (tenant_id, month, call_count, call_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, month) DO UPDATE
		SET call_count = usage_records.call_count + EXCLUDED.call_count,
		    call_seconds = usage_records.call_seconds + EXCLUDED.call_seconds,
		    updated_at = NOW()
	`, d.TenantID, month, calls, seconds); err != nil {
		return false, fmt.Errorf("commit: update usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: commit usage: %w", err)
	}
	return true, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
