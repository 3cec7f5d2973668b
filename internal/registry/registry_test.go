package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

type brokenStore struct {
	*store.MemoryStore
}

var errDown = errors.New("store unavailable")

func (brokenStore) InsertService(context.Context, marketplace.Service) error { return errDown }
func (brokenStore) UpdateReputation(context.Context, string, marketplace.Reputation, time.Time) error {
	return errDown
}

func draft(name, price string, caps ...string) marketplace.ServiceDraft {
	return marketplace.ServiceDraft{
		Name:         name,
		Provider:     "wallet-" + name,
		Endpoint:     "https://" + name + ".example/run",
		Capabilities: caps,
		Pricing:      marketplace.Pricing{Amount: price, Currency: "USDC", Network: "solana-devnet"},
	}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(store.NewMemory(), zap.NewNop())
}

func TestRegister_AssignsIDAndCaches(t *testing.T) {
	r := newRegistry(t)
	svc, err := r.Register(context.Background(), draft("alpha", "$0.02", "Sentiment-Analysis", "sentiment-analysis"))
	require.NoError(t, err)

	assert.NotEmpty(t, svc.ID)
	assert.Equal(t, []string{"sentiment-analysis"}, svc.Capabilities)
	assert.False(t, svc.CreatedAt.IsZero())

	got, err := r.Get(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.Name, got.Name)
}

func TestRegister_Validation(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	cases := map[string]marketplace.ServiceDraft{
		"missing name":      draft("", "$0.02", "x"),
		"no capabilities":   draft("a", "$0.02"),
		"blank capability":  draft("a", "$0.02", "  "),
		"bad price":         draft("a", "cheap", "x"),
		"relative endpoint": {Name: "a", Provider: "p", Endpoint: "/run", Capabilities: []string{"x"}, Pricing: marketplace.Pricing{Amount: "1"}},
		"sol pricing": func() marketplace.ServiceDraft {
			d := draft("a", "0.02", "x")
			d.Pricing.Currency = "SOL"
			return d
		}(),
		"nested metadata": func() marketplace.ServiceDraft {
			d := draft("a", "$0.02", "x")
			d.Metadata = map[string]any{"nested": map[string]any{"k": "v"}}
			return d
		}(),
	}
	for name, d := range cases {
		_, err := r.Register(ctx, d)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation), name)
	}
	assert.Empty(t, r.List())
}

func TestRegister_StoreFailurePropagates(t *testing.T) {
	r := New(brokenStore{store.NewMemory()}, zap.NewNop())
	_, err := r.Register(context.Background(), draft("a", "$0.02", "x"))
	assert.ErrorIs(t, err, errDown)
	assert.Empty(t, r.List())
}

func TestGet_Unknown(t *testing.T) {
	_, err := newRegistry(t).Get("missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSearch_CapabilityOR(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	a, _ := r.Register(ctx, draft("a", "$0.01", "A"))
	b, _ := r.Register(ctx, draft("b", "$0.01", "B", "C"))
	_, _ = r.Register(ctx, draft("c", "$0.01", "C"))
	ab, _ := r.Register(ctx, draft("ab", "$0.01", "A", "B"))

	got, err := r.Search(Filter{Capabilities: []string{"A", "B"}})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{a.ID, b.ID, ab.ID}, ids)
}

func TestSearch_PriceFilterAndSorts(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	d3 := draft("three", "$0.03", "sentiment-analysis")
	d3.Reputation = &marketplace.Reputation{Rating: 4.9, TotalJobs: 5}
	d1 := draft("one", "$0.01", "sentiment-analysis")
	d1.Reputation = &marketplace.Reputation{Rating: 3.5, TotalJobs: 500}
	d2 := draft("two", "$0.02", "sentiment-analysis")
	d2.Reputation = &marketplace.Reputation{Rating: 4.2, TotalJobs: 50}
	expensive := draft("pricey", "$0.10", "sentiment-analysis")
	for _, d := range []marketplace.ServiceDraft{d3, d1, d2, expensive} {
		_, err := r.Register(ctx, d)
		require.NoError(t, err)
	}

	names := func(list []marketplace.Service) []string {
		out := make([]string, 0, len(list))
		for _, s := range list {
			out = append(out, s.Name)
		}
		return out
	}

	f := Filter{Capabilities: []string{"sentiment-analysis"}, MaxPrice: "$0.05"}

	got, err := r.Search(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "one", "two"}, names(got))

	f.SortBy = SortPrice
	got, _ = r.Search(f)
	assert.Equal(t, []string{"one", "two", "three"}, names(got))

	f.SortBy = SortRating
	got, _ = r.Search(f)
	assert.Equal(t, []string{"three", "two", "one"}, names(got))

	f.SortBy = SortPopularity
	got, _ = r.Search(f)
	assert.Equal(t, []string{"one", "two", "three"}, names(got))

	f.MinRating = 4
	f.Limit = 1
	got, _ = r.Search(f)
	assert.Equal(t, []string{"two"}, names(got))

	_, err = r.Search(Filter{MaxPrice: "lots"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestUpdateReputation_RunningMean(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	d := draft("s", "$0.02", "sentiment-analysis")
	d.Reputation = &marketplace.Reputation{Rating: 4.8, Reviews: 89}
	svc, err := r.Register(ctx, d)
	require.NoError(t, err)

	require.NoError(t, r.UpdateReputation(ctx, svc.ID, 5))
	got, _ := r.Get(svc.ID)
	assert.Equal(t, 4.8, got.Reputation.Rating)
	assert.Equal(t, 90, got.Reputation.Reviews)
}

func TestNextRating_Property(t *testing.T) {
	for reviews := 0; reviews < 50; reviews += 7 {
		for _, rating := range []float64{0, 1.5, 3.3, 4.8, 5} {
			for score := 1; score <= 5; score++ {
				want := round1((rating*float64(reviews) + float64(score)) / float64(reviews+1))
				assert.Equal(t, want, NextRating(rating, reviews, score), fmt.Sprintf("r=%v R=%d s=%d", rating, reviews, score))
			}
		}
	}
}

func TestUpdateReputation_UnknownIsNoop(t *testing.T) {
	r := newRegistry(t)
	assert.NoError(t, r.UpdateReputation(context.Background(), "ghost", 4))
}

func TestUpdateReputation_BadScore(t *testing.T) {
	r := newRegistry(t)
	err := r.UpdateReputation(context.Background(), "any", 6)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestUpdateReputation_StoreFailureLeavesCache(t *testing.T) {
	mem := store.NewMemory()
	ok := New(mem, zap.NewNop())
	svc, err := ok.Register(context.Background(), draft("s", "$0.02", "x"))
	require.NoError(t, err)

	r := New(brokenStore{mem}, zap.NewNop())
	require.NoError(t, r.Load(context.Background()))

	assert.ErrorIs(t, r.UpdateReputation(context.Background(), svc.ID, 5), errDown)
	got, _ := r.Get(svc.ID)
	assert.Equal(t, 0, got.Reputation.Reviews)
}

func TestRecordJob(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	svc, _ := r.Register(ctx, draft("s", "$0.02", "x"))

	require.NoError(t, r.RecordJob(ctx, svc.ID, true, 400*time.Millisecond))
	require.NoError(t, r.RecordJob(ctx, svc.ID, false, 800*time.Millisecond))

	got, _ := r.Get(svc.ID)
	assert.Equal(t, 1, got.Reputation.TotalJobs)
	assert.Equal(t, 1, got.Reputation.FailedJobs)
	assert.Equal(t, 50.0, got.Reputation.SuccessRate)
	assert.Equal(t, 600.0, got.Reputation.AvgResponseTime)
}

func TestUpdateAndDelist(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	svc, _ := r.Register(ctx, draft("s", "$0.02", "x"))

	name := "renamed"
	got, err := r.Update(ctx, svc.ID, marketplace.ServicePatch{Name: &name, Capabilities: []string{"Y"}})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, []string{"y"}, got.Capabilities)

	bad := "ftp://nope"
	_, err = r.Update(ctx, svc.ID, marketplace.ServicePatch{Endpoint: &bad})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	require.NoError(t, r.Delist(ctx, svc.ID))
	_, err = r.Get(svc.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	fresh := newRegistry(t)
	assert.Empty(t, fresh.List())
}

func TestLoad_FromStore(t *testing.T) {
	mem := store.NewMemory()
	first := New(mem, zap.NewNop())
	a, _ := first.Register(context.Background(), draft("a", "$0.02", "x"))
	b, _ := first.Register(context.Background(), draft("b", "$0.02", "x"))
	require.NoError(t, first.Delist(context.Background(), a.ID))

	second := New(mem, zap.NewNop())
	require.NoError(t, second.Load(context.Background()))
	list := second.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("rating")
	require.NoError(t, err)
	assert.Equal(t, SortRating, k)

	_, err = ParseSortKey("newest")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
