// Package matcher ranks listed services against a free-text intent.
package matcher

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

// Source provides the current listings; *registry.Registry satisfies it.
type Source interface {
	List() []marketplace.Service
}

type Match struct {
	ServiceID           string              `json:"serviceId"`
	Score               float64             `json:"score"`
	MatchedCapabilities []string            `json:"matchedCapabilities"`
	Service             marketplace.Service `json:"service"`
}

const (
	exactPoints       = 40
	partialMax        = 20
	nameMax           = 15
	descriptionMax    = 10
	synonymPoints     = 15
	highConfidence    = 50
	descriptionMinLen = 3
)

type synonymGroup struct {
	words      []string
	capability string // substring a capability tag must contain
}

var synonymGroups = []synonymGroup{
	{words: []string{"feeling", "feelings", "mood", "tone", "emotion", "opinion"}, capability: "sentiment"},
	{words: []string{"picture", "photo", "image", "see", "look", "visual"}, capability: "image"},
	{words: []string{"summarize", "summary", "tldr", "shorten", "condense"}, capability: "summar"},
	{words: []string{"find", "search", "news", "lookup", "discover"}, capability: "search"},
}

type Matcher struct {
	src Source
	ttl time.Duration
	now func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	cached   []marketplace.Service
	loadedAt time.Time
}

func New(src Source, ttl time.Duration) *Matcher {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Matcher{src: src, ttl: ttl, now: time.Now}
}

// services returns the cached listings, re-pulling from the source once the TTL lapses.
func (m *Matcher) services() []marketplace.Service {
	m.mu.RLock()
	if m.cached != nil && m.now().Sub(m.loadedAt) < m.ttl {
		list := m.cached
		m.mu.RUnlock()
		return list
	}
	m.mu.RUnlock()

	v, _, _ := m.group.Do("refresh", func() (any, error) {
		list := m.src.List()
		if list == nil {
			list = []marketplace.Service{}
		}
		m.mu.Lock()
		m.cached, m.loadedAt = list, m.now()
		m.mu.Unlock()
		return list, nil
	})
	return v.([]marketplace.Service)
}

// Invalidate forces the next Match to re-pull listings.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Match scores every listing against intent; zero scores are dropped. limit <= 0 means no limit.
func (m *Matcher) Match(intent string, limit int) []Match {
	q := newQuery(intent)
	if len(q.words) == 0 {
		return nil
	}

	var out []Match
	for _, svc := range m.services() {
		score, matched := scoreService(q, svc)
		if score <= 0 {
			continue
		}
		out = append(out, Match{ServiceID: svc.ID, Score: score, MatchedCapabilities: matched, Service: svc.Clone()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ServiceID < out[j].ServiceID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type query struct {
	text  string // lowercased, separators collapsed to spaces, padded
	words map[string]struct{}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func newQuery(s string) query {
	toks := tokenize(s)
	words := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		words[t] = struct{}{}
	}
	return query{text: " " + strings.Join(toks, " ") + " ", words: words}
}

func (q query) has(word string) bool {
	_, ok := q.words[word]
	return ok
}

// overlap is the fraction of words present in the query.
func (q query) overlap(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	hit := 0
	for _, w := range words {
		if q.has(w) {
			hit++
		}
	}
	return float64(hit) / float64(len(words))
}

// scoreService applies the additive signals and clamps the total to [0,100].
func scoreService(q query, svc marketplace.Service) (float64, []string) {
	var (
		score   float64
		partial float64
		matched []string
	)

	for _, c := range svc.Capabilities {
		words := tokenize(c)
		if len(words) == 0 {
			continue
		}
		if strings.Contains(q.text, " "+strings.Join(words, " ")+" ") {
			score += exactPoints
			matched = append(matched, c)
			continue
		}
		if f := q.overlap(words); f > 0 {
			partial += partialMax * f
			matched = append(matched, c)
		}
	}
	score += math.Min(partial, partialMax)

	score += nameMax * q.overlap(tokenize(svc.Name))

	var descWords []string
	for w := range q.words {
		if len(w) > descriptionMinLen {
			descWords = append(descWords, w)
		}
	}
	if len(descWords) > 0 {
		desc := map[string]struct{}{}
		for _, w := range tokenize(svc.Description) {
			desc[w] = struct{}{}
		}
		hit := 0
		for _, w := range descWords {
			if _, ok := desc[w]; ok {
				hit++
			}
		}
		score += descriptionMax * float64(hit) / float64(len(descWords))
	}

	for _, g := range synonymGroups {
		if !q.anyOf(g.words) {
			continue
		}
		for _, c := range svc.Capabilities {
			if strings.Contains(c, g.capability) {
				score += synonymPoints
				matched = appendUnique(matched, c)
				break
			}
		}
	}

	if score > 0 {
		score += QualityScore(svc.Reputation) / 10
	}
	return math.Max(0, math.Min(100, score)), matched
}

func (q query) anyOf(words []string) bool {
	for _, w := range words {
		if q.has(w) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

// QualityScore blends rating, success rate, experience and latency into 0-100.
func QualityScore(rep marketplace.Reputation) float64 {
	q := rep.Rating / 5 * 40
	q += rep.SuccessRate / 100 * 30
	q += math.Min(float64(rep.TotalJobs), 100) / 100 * 20
	switch {
	case rep.AvgResponseTime <= 0:
	case rep.AvgResponseTime < 1000:
		q += 10
	case rep.AvgResponseTime < 3000:
		q += 5
	}
	return q
}
