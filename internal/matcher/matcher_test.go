package matcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

type countingSource struct {
	calls    atomic.Int32
	services []marketplace.Service
}

func (s *countingSource) List() []marketplace.Service {
	s.calls.Add(1)
	return s.services
}

func sentimentService() marketplace.Service {
	return marketplace.Service{
		ID:           "sent",
		Name:         "Sentiment Analyzer",
		Description:  "Scores the emotional tone of text",
		Capabilities: []string{"sentiment-analysis"},
	}
}

func TestMatch_ExactCapabilityAndName(t *testing.T) {
	m := New(&countingSource{services: []marketplace.Service{sentimentService()}}, time.Minute)

	got := m.Match("run sentiment analysis on this review", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "sent", got[0].ServiceID)
	assert.InDelta(t, 47.5, got[0].Score, 1e-9)
	assert.Equal(t, []string{"sentiment-analysis"}, got[0].MatchedCapabilities)
}

func TestMatch_QualityBonusOnlyWithSignal(t *testing.T) {
	star := sentimentService()
	star.Reputation = marketplace.Reputation{Rating: 5, SuccessRate: 100, TotalJobs: 250, AvgResponseTime: 500}
	m := New(&countingSource{services: []marketplace.Service{star}}, time.Minute)

	got := m.Match("run sentiment analysis on this review", 0)
	require.Len(t, got, 1)
	assert.InDelta(t, 57.5, got[0].Score, 1e-9)

	assert.Empty(t, m.Match("translate french poetry", 0))
}

func TestMatch_SynonymsAndPartial(t *testing.T) {
	m := New(&countingSource{services: []marketplace.Service{sentimentService()}}, time.Minute)

	got := m.Match("what is the mood of this tweet", 0)
	require.Len(t, got, 1)
	assert.InDelta(t, 15, got[0].Score, 1e-9)

	got = m.Match("analysis please", 0)
	require.Len(t, got, 1)
	// half the capability words present: 20 * 0.5
	assert.InDelta(t, 10, got[0].Score, 1e-9)
}

func TestMatch_ClampedAndSorted(t *testing.T) {
	heavy := marketplace.Service{
		ID:           "b-heavy",
		Name:         "search news sentiment",
		Description:  "search news sentiment",
		Capabilities: []string{"search", "news", "sentiment", "news-search"},
		Reputation:   marketplace.Reputation{Rating: 5, SuccessRate: 100, TotalJobs: 100, AvgResponseTime: 10},
	}
	light := sentimentService()
	light.ID = "a-light"
	m := New(&countingSource{services: []marketplace.Service{light, heavy}}, time.Minute)

	got := m.Match("search news sentiment", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "b-heavy", got[0].ServiceID)
	assert.Equal(t, 100.0, got[0].Score)

	assert.Len(t, m.Match("search news sentiment", 1), 1)
}

func TestMatch_TieBreaksByID(t *testing.T) {
	a, b := sentimentService(), sentimentService()
	a.ID, b.ID = "z", "a"
	m := New(&countingSource{services: []marketplace.Service{a, b}}, time.Minute)

	got := m.Match("sentiment analysis", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ServiceID)
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 0.0, QualityScore(marketplace.Reputation{}))
	assert.Equal(t, 100.0, QualityScore(marketplace.Reputation{Rating: 5, SuccessRate: 100, TotalJobs: 500, AvgResponseTime: 200}))
	assert.InDelta(t, 24+15+10+5, QualityScore(marketplace.Reputation{Rating: 3, SuccessRate: 50, TotalJobs: 50, AvgResponseTime: 2000}), 1e-9)
}

func TestCache_TTLAndSingleflight(t *testing.T) {
	src := &countingSource{services: []marketplace.Service{sentimentService()}}
	m := New(src, time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Match("sentiment", 0)
		}()
	}
	wg.Wait()
	first := src.calls.Load()
	assert.LessOrEqual(t, first, int32(20))
	assert.GreaterOrEqual(t, first, int32(1))

	m.Match("sentiment", 0)
	assert.Equal(t, first, src.calls.Load())

	now = now.Add(2 * time.Minute)
	m.Match("sentiment", 0)
	assert.Equal(t, first+1, src.calls.Load())

	m.Invalidate()
	m.Match("sentiment", 0)
	assert.Equal(t, first+2, src.calls.Load())
}

func TestDetectWorkflow_Pipeline(t *testing.T) {
	search := marketplace.Service{ID: "srch", Name: "Web Search", Capabilities: []string{"search"}}
	sentiment := marketplace.Service{
		ID: "sent", Name: "Sentiment Scorer", Description: "sentiment of news",
		Capabilities: []string{"sentiment"},
	}
	m := New(&countingSource{services: []marketplace.Service{sentiment, search}}, time.Minute)

	wf := m.DetectWorkflow("search news and analyze sentiment")
	assert.Equal(t, "search-sentiment", wf.Pipeline)
	assert.Equal(t, []string{"srch", "sent"}, wf.ServiceIDs)
}

func TestDetectWorkflow_NoPipeline(t *testing.T) {
	m := New(&countingSource{services: []marketplace.Service{sentimentService()}}, time.Minute)

	wf := m.DetectWorkflow("sentiment analysis tone")
	assert.Empty(t, wf.Pipeline)
	assert.Equal(t, []string{"sent"}, wf.ServiceIDs)

	wf = m.DetectWorkflow("weather")
	assert.Empty(t, wf.ServiceIDs)
}
