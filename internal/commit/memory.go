package commit

import (
	"context"
	"sync"
)

type resultKey struct {
	tenantID string
	callID   string
}

// MemoryResultRepository keeps results in process memory.
type MemoryResultRepository struct {
	mu           sync.Mutex
	orders       map[resultKey]Order
	appointments map[resultKey]Appointment
}

func NewMemoryResultRepository() *MemoryResultRepository {
	return &MemoryResultRepository{
		orders:       make(map[resultKey]Order),
		appointments: make(map[resultKey]Appointment),
	}
}

func (r *MemoryResultRepository) InsertOrder(ctx context.Context, o Order) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resultKey{o.TenantID, o.CallID}
	if existing, ok := r.orders[key]; ok {
		return existing.ID, false, nil
	}
	r.orders[key] = o
	return o.ID, true, nil
}

func (r *MemoryResultRepository) InsertAppointment(ctx context.Context, a Appointment) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resultKey{a.TenantID, a.CallID}
	if existing, ok := r.appointments[key]; ok {
		return existing.ID, false, nil
	}
	r.appointments[key] = a
	return a.ID, true, nil
}

// Count returns how many results exist for a call.
func (r *MemoryResultRepository) Count(tenantID, callID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resultKey{tenantID, callID}
	n := 0
	if _, ok := r.orders[key]; ok {
		n++
	}
	if _, ok := r.appointments[key]; ok {
		n++
	}
	return n
}

// Order returns the stored order for a call.
func (r *MemoryResultRepository) Order(tenantID, callID string) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[resultKey{tenantID, callID}]
	return o, ok
}

// Usage is a tenant's monthly total.
type Usage struct {
	Calls   int64
	Seconds int64
}

type appliedUsage struct {
	month   string
	seconds int64
	settled bool
}

// MemoryUsageRepository keeps usage totals in process memory.
type MemoryUsageRepository struct {
	mu      sync.Mutex
	applied map[resultKey]*appliedUsage
	totals  map[string]Usage
}

func NewMemoryUsageRepository() *MemoryUsageRepository {
	return &MemoryUsageRepository{applied: make(map[resultKey]*appliedUsage), totals: make(map[string]Usage)}
}

func (r *MemoryUsageRepository) Apply(ctx context.Context, d UsageDelta) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resultKey{d.TenantID, d.CallID}
	if prev, ok := r.applied[key]; ok {
		if !d.Settled || prev.settled {
			return false, nil
		}
		r.add(d.TenantID, prev.month, 0, d.Seconds-prev.seconds)
		prev.seconds, prev.settled = d.Seconds, true
		return true, nil
	}
	r.applied[key] = &appliedUsage{month: d.Month, seconds: d.Seconds, settled: d.Settled}
	r.add(d.TenantID, d.Month, d.Calls, d.Seconds)
	return true, nil
}

func (r *MemoryUsageRepository) add(tenantID, month string, calls, seconds int64) {
	total := r.totals[tenantID+"|"+month]
	total.Calls += calls
	total.Seconds += seconds
	r.totals[tenantID+"|"+month] = total
}

// Total returns the usage for tenantID in month (YYYY-MM).
func (r *MemoryUsageRepository) Total(tenantID, month string) Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[tenantID+"|"+month]
}
