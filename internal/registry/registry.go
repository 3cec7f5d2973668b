// Package registry owns the listed services and keeps an in-memory mirror of the store.
package registry

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

type SortKey string

const (
	SortNone       SortKey = ""
	SortPrice      SortKey = "price"
	SortRating     SortKey = "rating"
	SortPopularity SortKey = "popularity"
)

// ParseSortKey accepts the public sort names; unknown values are a validation error.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case SortNone, SortPrice, SortRating, SortPopularity:
		return k, nil
	}
	return SortNone, apperr.Validation("unknown sortBy %q", s).With("allowed", []string{"price", "rating", "popularity"})
}

type Filter struct {
	Capabilities []string
	MaxPrice     string
	MinRating    float64
	SortBy       SortKey
	Limit        int
}

type Registry struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time

	// writeMu serializes read-modify-write cycles so two ratings can't both start from the same snapshot.
	writeMu sync.Mutex

	mu    sync.RWMutex
	byID  map[string]marketplace.Service
	order []string
}

func New(st store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.L()
	}
	return &Registry{
		store: st,
		log:   logger.Named("registry"),
		now:   func() time.Time { return time.Now().UTC() },
		byID:  make(map[string]marketplace.Service),
	}
}

// Load replaces the cache with the store's current listings.
func (r *Registry) Load(ctx context.Context) error {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return eris.Wrap(err, "load services")
	}

	byID := make(map[string]marketplace.Service, len(services))
	order := make([]string, 0, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
		order = append(order, svc.ID)
	}

	r.mu.Lock()
	r.byID, r.order = byID, order
	r.mu.Unlock()

	r.log.Info("service cache loaded", zap.Int("services", len(services)))
	return nil
}

func (r *Registry) Register(ctx context.Context, d marketplace.ServiceDraft) (marketplace.Service, error) {
	if err := validateDraft(d); err != nil {
		return marketplace.Service{}, err
	}

	now := r.now()
	svc := marketplace.Service{
		ID:           uuid.New().String(),
		Name:         d.Name,
		Description:  d.Description,
		Provider:     d.Provider,
		Endpoint:     d.Endpoint,
		Capabilities: marketplace.NormalizeCapabilities(d.Capabilities),
		Pricing:      d.Pricing,
		Metadata:     d.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	svc.Pricing.Currency = marketplace.NormalizeCurrency(svc.Pricing.Currency)
	if d.Reputation != nil {
		svc.Reputation = *d.Reputation
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.InsertService(ctx, svc); err != nil {
		return marketplace.Service{}, eris.Wrap(err, "register service")
	}
	r.put(svc)

	r.log.Info("service registered", zap.String("service_id", svc.ID), zap.Strings("capabilities", svc.Capabilities))
	return svc.Clone(), nil
}

func (r *Registry) put(svc marketplace.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[svc.ID]; !exists {
		r.order = append(r.order, svc.ID)
	}
	r.byID[svc.ID] = svc
}

// Get is a cache-only read.
func (r *Registry) Get(id string) (marketplace.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.byID[id]
	if !ok {
		return marketplace.Service{}, apperr.NotFound("service %s not found", id)
	}
	return svc.Clone(), nil
}

// List returns every cached service in insertion order.
func (r *Registry) List() []marketplace.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]marketplace.Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Search filters the cache. Capabilities use OR semantics.
func (r *Registry) Search(f Filter) ([]marketplace.Service, error) {
	var maxPrice string
	if f.MaxPrice != "" {
		if _, err := marketplace.ParseUnits(f.MaxPrice, 6); err != nil {
			return nil, apperr.Wrap(err, apperr.KindValidation, "invalid maxPrice %q", f.MaxPrice)
		}
		maxPrice = f.MaxPrice
	}
	want := marketplace.NormalizeCapabilities(f.Capabilities)

	var out []marketplace.Service
	for _, svc := range r.List() {
		if len(want) > 0 && !hasAny(svc, want) {
			continue
		}
		if maxPrice != "" && !withinPrice(svc.Pricing, maxPrice) {
			continue
		}
		if svc.Reputation.Rating < f.MinRating {
			continue
		}
		out = append(out, svc)
	}

	sortServices(out, f.SortBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func hasAny(svc marketplace.Service, caps []string) bool {
	for _, c := range caps {
		if svc.HasCapability(c) {
			return true
		}
	}
	return false
}

func withinPrice(p marketplace.Pricing, maxPrice string) bool {
	dec, ok := marketplace.AssetDecimals(p.Currency)
	if !ok {
		return false
	}
	price, err := marketplace.ParseUnits(p.Amount, dec)
	if err != nil {
		return false
	}
	limit, err := marketplace.ParseUnits(maxPrice, dec)
	if err != nil {
		return false
	}
	return price <= limit
}

func priceOf(svc marketplace.Service) uint64 {
	u, err := svc.Pricing.PriceUnits()
	if err != nil {
		return math.MaxUint64
	}
	return u
}

func sortServices(list []marketplace.Service, key SortKey) {
	switch key {
	case SortPrice:
		sort.SliceStable(list, func(i, j int) bool { return priceOf(list[i]) < priceOf(list[j]) })
	case SortRating:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Reputation.Rating > list[j].Reputation.Rating
		})
	case SortPopularity:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Reputation.TotalJobs > list[j].Reputation.TotalJobs
		})
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// NextRating folds one more score into a running mean rounded to one decimal.
func NextRating(rating float64, reviews, score int) float64 {
	return round1((rating*float64(reviews) + float64(score)) / float64(reviews+1))
}

// UpdateReputation records one review score. An unknown id is a no-op.
func (r *Registry) UpdateReputation(ctx context.Context, id string, score int) error {
	if score < 1 || score > 5 {
		return apperr.Validation("score must be between 1 and 5, got %d", score)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	svc, err := r.Get(id)
	if err != nil {
		r.log.Warn("reputation update for unknown service ignored", zap.String("service_id", id))
		return nil
	}

	svc.Reputation.Rating = NextRating(svc.Reputation.Rating, svc.Reputation.Reviews, score)
	svc.Reputation.Reviews++
	svc.UpdatedAt = r.now()

	if err := r.store.UpdateReputation(ctx, id, svc.Reputation, svc.UpdatedAt); err != nil {
		return eris.Wrapf(err, "update reputation of %s", id)
	}
	r.put(svc)
	return nil
}

// RecordJob folds one delivery attempt into the job statistics.
func (r *Registry) RecordJob(ctx context.Context, id string, success bool, elapsed time.Duration) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	svc, err := r.Get(id)
	if err != nil {
		return err
	}

	rep := &svc.Reputation
	if success {
		rep.TotalJobs++
	} else {
		rep.FailedJobs++
	}
	attempts := rep.TotalJobs + rep.FailedJobs
	rep.SuccessRate = round1(float64(rep.TotalJobs) / float64(attempts) * 100)
	ms := float64(elapsed.Milliseconds())
	rep.AvgResponseTime = round1(rep.AvgResponseTime + (ms-rep.AvgResponseTime)/float64(attempts))
	svc.UpdatedAt = r.now()

	if err := r.store.UpdateReputation(ctx, id, svc.Reputation, svc.UpdatedAt); err != nil {
		return eris.Wrapf(err, "record job for %s", id)
	}
	r.put(svc)
	return nil
}

// Update applies explicit edits to a listing.
func (r *Registry) Update(ctx context.Context, id string, p marketplace.ServicePatch) (marketplace.Service, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	svc, err := r.Get(id)
	if err != nil {
		return marketplace.Service{}, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return marketplace.Service{}, apperr.Validation("name cannot be empty")
		}
		svc.Name = *p.Name
	}
	if p.Description != nil {
		svc.Description = *p.Description
	}
	if p.Endpoint != nil {
		if err := validateEndpoint(*p.Endpoint); err != nil {
			return marketplace.Service{}, err
		}
		svc.Endpoint = *p.Endpoint
	}
	if p.Capabilities != nil {
		caps := marketplace.NormalizeCapabilities(p.Capabilities)
		if len(caps) == 0 {
			return marketplace.Service{}, apperr.Validation("at least one non-empty capability is required")
		}
		svc.Capabilities = caps
	}
	if p.Pricing != nil {
		if err := validatePricing(*p.Pricing); err != nil {
			return marketplace.Service{}, err
		}
		svc.Pricing = *p.Pricing
		svc.Pricing.Currency = marketplace.NormalizeCurrency(svc.Pricing.Currency)
	}
	if p.Metadata != nil {
		if err := validateMetadata(p.Metadata); err != nil {
			return marketplace.Service{}, err
		}
		svc.Metadata = p.Metadata
	}
	svc.UpdatedAt = r.now()

	if err := r.store.UpdateService(ctx, svc); err != nil {
		return marketplace.Service{}, eris.Wrapf(err, "update service %s", id)
	}
	r.put(svc)
	return svc.Clone(), nil
}

// Delist soft-deletes a service; transactions keep referencing the row.
func (r *Registry) Delist(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := r.store.SoftDeleteService(ctx, id, r.now()); err != nil {
		return eris.Wrapf(err, "delist service %s", id)
	}

	r.mu.Lock()
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Info("service delisted", zap.String("service_id", id))
	return nil
}
