package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository reads tenants and catalogs from Postgres.
type PGRepository struct {
	db queryer
}

// NewPGRepository builds a Postgres-backed tenant repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	if pool == nil {
		panic("tenancy: pgx pool required")
	}
	return &PGRepository{db: pool}
}

func newPGRepositoryWithQueryer(db queryer) *PGRepository {
	return &PGRepository{db: db}
}

var _ Repository = (*PGRepository)(nil)

// LoadTenant loads the tenant row and its catalog.
func (r *PGRepository) LoadTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var (
		t    Tenant
		flow string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, display_name, flow, timezone, COALESCE(notify_email, ''), retry_budget, active
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.DisplayName, &flow, &t.Timezone, &t.NotifyEmail, &t.RetryBudget, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenancy: query tenant: %w", err)
	}
	t.Flow = slots.Flow(flow)
	if !t.Flow.Valid() {
		return nil, fmt.Errorf("tenancy: tenant %s has unknown flow %q", tenantID, flow)
	}

	cat, err := r.LoadCatalog(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	t.Catalog = cat
	return &t, nil
}

// LoadCatalog returns the tenant's available items in catalog sort order.
func (r *PGRepository) LoadCatalog(ctx context.Context, tenantID string) (catalog.Catalog, error) {
	var cat catalog.Catalog

	rows, err := r.db.Query(ctx, `
		SELECT id, name, category, price_cents, is_modifier, sort_order
		FROM catalog_items
		WHERE tenant_id = $1 AND available
		ORDER BY sort_order, name
	`, tenantID)
	if err != nil {
		return cat, fmt.Errorf("tenancy: query catalog: %w", err)
	}
	for rows.Next() {
		var item catalog.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.PriceCents, &item.IsModifier, &item.SortOrder); err != nil {
			rows.Close()
			return cat, fmt.Errorf("tenancy: scan catalog item: %w", err)
		}
		cat.Items = append(cat.Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cat, fmt.Errorf("tenancy: iterate catalog: %w", err)
	}

	catRows, err := r.db.Query(ctx, `
		SELECT name, condiment_included
		FROM catalog_categories
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return cat, fmt.Errorf("tenancy: query categories: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var c catalog.Category
		if err := catRows.Scan(&c.Name, &c.CondimentIncluded); err != nil {
			return cat, fmt.Errorf("tenancy: scan category: %w", err)
		}
		cat.Categories = append(cat.Categories, c)
	}
	if err := catRows.Err(); err != nil {
		return cat, fmt.Errorf("tenancy: iterate categories: %w", err)
	}
	return cat, nil
}
