package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

// MemoryStore keeps everything in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	services     map[string]marketplace.Service
	deleted      map[string]time.Time
	serviceOrder []string
	transactions map[string]marketplace.Transaction
	txOrder      []string
	ratings      map[string]marketplace.Rating // keyed by transaction id
	disputes     map[string]marketplace.Dispute
	disputeOrder []string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		services:     make(map[string]marketplace.Service),
		deleted:      make(map[string]time.Time),
		transactions: make(map[string]marketplace.Transaction),
		ratings:      make(map[string]marketplace.Rating),
		disputes:     make(map[string]marketplace.Dispute),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Close()                        {}

func (m *MemoryStore) liveService(id string) (marketplace.Service, bool) {
	svc, ok := m.services[id]
	if !ok {
		return svc, false
	}
	if _, gone := m.deleted[id]; gone {
		return svc, false
	}
	return svc, true
}

func (m *MemoryStore) InsertService(_ context.Context, svc marketplace.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.ID]; ok {
		return apperr.Conflict("service %s already exists", svc.ID)
	}
	m.services[svc.ID] = svc.Clone()
	m.serviceOrder = append(m.serviceOrder, svc.ID)
	return nil
}

func (m *MemoryStore) UpdateService(_ context.Context, svc marketplace.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.liveService(svc.ID)
	if !ok {
		return apperr.NotFound("service %s not found", svc.ID)
	}
	next := svc.Clone()
	next.Provider = old.Provider
	next.CreatedAt = old.CreatedAt
	m.services[svc.ID] = next
	return nil
}

func (m *MemoryStore) UpdateReputation(_ context.Context, id string, rep marketplace.Reputation, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.liveService(id)
	if !ok {
		return apperr.NotFound("service %s not found", id)
	}
	svc.Reputation = rep
	svc.UpdatedAt = at
	m.services[id] = svc
	return nil
}

func (m *MemoryStore) SoftDeleteService(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveService(id); !ok {
		return apperr.NotFound("service %s not found", id)
	}
	m.deleted[id] = at
	return nil
}

func (m *MemoryStore) ListServices(context.Context) ([]marketplace.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]marketplace.Service, 0, len(m.serviceOrder))
	for _, id := range m.serviceOrder {
		if svc, ok := m.liveService(id); ok {
			out = append(out, svc.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) putTransaction(tx marketplace.Transaction) error {
	if _, ok := m.transactions[tx.ID]; ok {
		return apperr.Conflict("transaction %s already exists", tx.ID)
	}
	m.transactions[tx.ID] = tx
	m.txOrder = append(m.txOrder, tx.ID)
	return nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, tx marketplace.Transaction) error {
	if tx.Status != marketplace.TxPending {
		return eris.Errorf("insert transaction %s: status must be pending, got %s", tx.ID, tx.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putTransaction(tx)
}

func (m *MemoryStore) InsertTerminalTransaction(_ context.Context, tx marketplace.Transaction) error {
	if !tx.Status.Terminal() {
		return eris.Errorf("insert terminal transaction %s: status %s is not terminal", tx.ID, tx.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putTransaction(tx)
}

func (m *MemoryStore) FinishTransaction(_ context.Context, id string, out Outcome) error {
	if !out.Status.Terminal() {
		return eris.Errorf("finish transaction %s: status %s is not terminal", id, out.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok || tx.Status != marketplace.TxPending {
		return ErrTerminal
	}
	tx.Status = out.Status
	tx.Response = out.Response
	tx.Error = out.Error
	tx.UpdatedAt = out.At
	m.transactions[id] = tx
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id string) (marketplace.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return tx, apperr.NotFound("transaction %s not found", id)
	}
	return tx, nil
}

func (m *MemoryStore) ListTransactionsByPayment(_ context.Context, signature string) ([]marketplace.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []marketplace.Transaction
	for _, id := range m.txOrder {
		if tx := m.transactions[id]; tx.PaymentHash == signature {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTransactionsByBuyer(_ context.Context, buyer string, limit int) ([]marketplace.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []marketplace.Transaction
	for i := len(m.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		if tx := m.transactions[m.txOrder[i]]; tx.Buyer == buyer {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertRating(_ context.Context, r marketplace.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ratings[r.TransactionID]; ok {
		return apperr.Conflict("transaction %s has already been rated", r.TransactionID)
	}
	m.ratings[r.TransactionID] = r
	return nil
}

func (m *MemoryStore) DeleteRating(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for txID, r := range m.ratings {
		if r.ID == id {
			delete(m.ratings, txID)
			return nil
		}
	}
	return apperr.NotFound("rating %s not found", id)
}

func (m *MemoryStore) GetRatingByTransaction(_ context.Context, transactionID string) (marketplace.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[transactionID]
	if !ok {
		return r, apperr.NotFound("no rating for transaction %s", transactionID)
	}
	return r, nil
}

func (m *MemoryStore) ListRatingsByService(_ context.Context, serviceID string, limit int) ([]marketplace.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []marketplace.Rating
	for _, r := range m.ratings {
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertDispute(_ context.Context, d marketplace.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[d.ID] = d
	m.disputeOrder = append(m.disputeOrder, d.ID)
	return nil
}

func (m *MemoryStore) ListDisputes(_ context.Context, status string) ([]marketplace.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []marketplace.Dispute
	for _, id := range m.disputeOrder {
		if d := m.disputes[id]; status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ResolveDispute(_ context.Context, id, resolution, notes string, at time.Time) (marketplace.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok || d.Status != marketplace.DisputeOpen {
		return d, apperr.NotFound("open dispute %s not found", id)
	}
	d.Status = marketplace.DisputeResolved
	d.Resolution = resolution
	d.Notes = notes
	d.ResolvedAt = &at
	m.disputes[id] = d
	return d, nil
}

func (m *MemoryStore) Stats(context.Context) (marketplace.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := marketplace.Stats{Ratings: len(m.ratings)}
	for id := range m.services {
		if _, gone := m.deleted[id]; !gone {
			st.Services++
		}
	}
	for _, tx := range m.transactions {
		switch tx.Status {
		case marketplace.TxPending:
			st.Pending++
		case marketplace.TxCompleted:
			st.Completed++
		case marketplace.TxFailed:
			st.Failed++
		}
	}
	for _, d := range m.disputes {
		if d.Status == marketplace.DisputeOpen {
			st.OpenDisputes++
		}
	}
	return st, nil
}
