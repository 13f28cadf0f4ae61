package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// Repository loads tenants from durable storage.
type Repository interface {
	LoadTenant(ctx context.Context, tenantID string) (*Tenant, error)
}

// Cache is an optional read-through cache in front of the repository.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	Set(ctx context.Context, tenant *Tenant) error
}

// Resolver validates tenant ids and loads their configuration.
type Resolver struct {
	repo   Repository
	cache  Cache
	logger *logging.Logger
}

// NewResolver builds a resolver; cache may be nil.
func NewResolver(repo Repository, cache Cache, logger *logging.Logger) *Resolver {
	if repo == nil {
		panic("tenancy: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{repo: repo, cache: cache, logger: logger}
}

// Resolve returns the tenant for tenantID or ErrTenantNotFound. Cache
// failures degrade to the repository; they never widen the lookup.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, tenantID)
		switch {
		case err != nil:
			r.logger.Warn("tenancy: cache read failed", "tenant_id", tenantID, "error", err)
		case cached != nil && cached.ID == tenantID && cached.Active:
			return cached, nil
		}
	}

	tenant, err := r.repo.LoadTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenancy: load %s: %w", tenantID, err)
	}
	if tenant == nil || tenant.ID != tenantID || !tenant.Active {
		return nil, ErrTenantNotFound
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, tenant); err != nil {
			r.logger.Warn("tenancy: cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return tenant, nil
}
