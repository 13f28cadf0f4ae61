package tenancy

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/voice-receptionist/internal/slots"
)

func TestPGRepositoryLoadTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPGRepositoryWithQueryer(mock)

	mock.ExpectQuery("FROM tenants").WithArgs("frituur-1").WillReturnRows(
		pgxmock.NewRows([]string{"id", "display_name", "flow", "timezone", "notify_email", "retry_budget", "active"}).
			AddRow("frituur-1", "Frituur De Hoek", "order", "Europe/Brussels", "baas@dehoek.be", 0, true))
	mock.ExpectQuery("FROM catalog_items").WithArgs("frituur-1").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "category", "price_cents", "is_modifier", "sort_order"}).
			AddRow("i1", "Grote friet", "Friet", int64(410), false, 1).
			AddRow("i2", "mayonaise", "Sauzen", int64(110), true, 10))
	mock.ExpectQuery("FROM catalog_categories").WithArgs("frituur-1").WillReturnRows(
		pgxmock.NewRows([]string{"name", "condiment_included"}).AddRow("Bickys", true))

	tenant, err := repo.LoadTenant(context.Background(), "frituur-1")
	if err != nil {
		t.Fatalf("load tenant: %v", err)
	}
	if tenant.Flow != slots.FlowOrder || tenant.NotifyEmail != "baas@dehoek.be" {
		t.Fatalf("unexpected tenant %+v", tenant)
	}
	if len(tenant.Catalog.Items) != 2 || !tenant.Catalog.Items[1].IsModifier {
		t.Fatalf("unexpected catalog %+v", tenant.Catalog.Items)
	}
	if !tenant.Catalog.CondimentIncluded("bickys") {
		t.Fatal("expected Bickys to be condiment-included")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRepositoryUnknownTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPGRepositoryWithQueryer(mock)
	mock.ExpectQuery("FROM tenants").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	if _, err := repo.LoadTenant(context.Background(), "ghost"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
