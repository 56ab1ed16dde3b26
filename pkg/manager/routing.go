package manager

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/store"
)

// baselineScore keeps stores with no lexical affinity in the ranking
// without ever clearing a routing threshold.
const baselineScore = 0.05

// Suggestion pairs a simulacrum with its relevance to a query.
type Suggestion struct {
	Meta  Metadata
	Score float64
}

// Suggest scores every registered simulacrum against a query: 0.4 per
// matching domain tag, up to 0.3 for description-word overlap, 0.5
// when the store name literally appears in the query, plus a 0.1
// recency bonus for stores that were ever accessed. Scores clip at
// 1.0. A store with no lexical affinity still gets a small baseline
// so every registered store participates in the ranking; the
// novelty threshold sits well above it.
func (m *Manager) Suggest(query string, topK int) []Suggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suggestLocked(query, topK)
}

func (m *Manager) suggestLocked(query string, topK int) []Suggestion {
	queryLower := strings.ToLower(query)
	queryWords := wordSet(queryLower)

	var out []Suggestion
	for _, meta := range m.metadata {
		score := 0.0
		for _, domain := range meta.Domains {
			if strings.Contains(queryLower, strings.ToLower(domain)) {
				score += 0.4
			}
		}

		descWords := wordSet(strings.ToLower(meta.Description))
		overlap := 0
		for w := range queryWords {
			if _, ok := descWords[w]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			score += 0.3 * min(float64(overlap)/3, 1.0)
		}

		if strings.Contains(queryLower, strings.ToLower(meta.Name)) {
			score += 0.5
		}
		if meta.AccessCount > 0 {
			score += 0.1
		}

		if score == 0 {
			score = baselineScore
		}
		out = append(out, Suggestion{Meta: *meta, Score: min(score, 1.0)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// AutoActivate activates the best suggestion when it clears the
// threshold, returning nil when nothing matches well enough.
func (m *Manager) AutoActivate(query string, threshold float64) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	suggestions := m.suggestLocked(query, 1)
	if len(suggestions) == 0 || suggestions[0].Score < threshold {
		return nil, nil
	}
	return m.activateLocked(suggestions[0].Meta.Name)
}

// RouteResult explains what RouteQuery did.
type RouteResult struct {
	Store       *store.Store
	Name        string
	Spawned     bool
	Explanation string
}

// RouteQuery finds, activates or spawns a simulacrum for a query. An
// unmatched query is bucketed into a pending domain; once a bucket
// accumulates enough coherent queries and the registry has room, a new
// store spawns from its top keywords.
func (m *Manager) RouteQuery(query string) (RouteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	suggestions := m.suggestLocked(query, 1)
	if len(suggestions) > 0 && suggestions[0].Score >= m.spawn.NoveltyThreshold {
		best := suggestions[0]
		st, err := m.activateLocked(best.Meta.Name)
		if err != nil {
			return RouteResult{}, err
		}
		return RouteResult{
			Store:       st,
			Name:        best.Meta.Name,
			Explanation: fmt.Sprintf("matched existing simulacrum %q (%.0f%%)", best.Meta.Name, best.Score*100),
		}, nil
	}

	if !m.spawn.Enabled {
		if len(suggestions) > 0 {
			st, err := m.activateLocked(suggestions[0].Meta.Name)
			if err != nil {
				return RouteResult{}, err
			}
			return RouteResult{
				Store:       st,
				Name:        suggestions[0].Meta.Name,
				Explanation: "using closest match (spawning disabled)",
			}, nil
		}
		return RouteResult{Explanation: "no matching simulacrum (spawning disabled)"}, nil
	}

	name, spawned, err := m.trackAndMaybeSpawnLocked(query)
	if err != nil {
		return RouteResult{}, err
	}
	if spawned {
		st, err := m.activateLocked(name)
		if err != nil {
			return RouteResult{}, err
		}
		return RouteResult{
			Store:       st,
			Name:        name,
			Spawned:     true,
			Explanation: fmt.Sprintf("auto-spawned new simulacrum %q", name),
		}, nil
	}

	if len(suggestions) > 0 && suggestions[0].Score >= 0.2 {
		st, err := m.activateLocked(suggestions[0].Meta.Name)
		if err != nil {
			return RouteResult{}, err
		}
		return RouteResult{
			Store:       st,
			Name:        suggestions[0].Meta.Name,
			Explanation: fmt.Sprintf("using closest match %q", suggestions[0].Meta.Name),
		}, nil
	}
	return RouteResult{Explanation: "query tracked; waiting for more context before spawning"}, nil
}

func (m *Manager) trackAndMaybeSpawnLocked(query string) (string, bool, error) {
	if len(m.metadata) >= m.spawn.MaxSimulacrums {
		return "", false, nil
	}

	m.unmatched = append(m.unmatched, query)
	if limit := m.spawn.MinQueriesBeforeSpawn * 3; len(m.unmatched) > limit {
		m.unmatched = m.unmatched[len(m.unmatched)-limit:]
	}

	domain := m.findOrCreatePendingLocked(query)
	domain.addQuery(query)

	if len(domain.queries) < m.spawn.MinQueriesBeforeSpawn {
		return "", false, nil
	}
	if domain.coherence() < m.spawn.DomainCoherenceThreshold {
		return "", false, nil
	}
	name, err := m.spawnFromPendingLocked(domain)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// findOrCreatePendingLocked joins the pending domain sharing the most
// keywords with the query (at least 2), or starts a fresh bucket. The
// bucket list caps at 10 with the oldest evicted first.
func (m *Manager) findOrCreatePendingLocked(query string) *pendingDomain {
	queryWords := keywordSet(query)

	var best *pendingDomain
	bestOverlap := 0
	for _, d := range m.pending {
		overlap := 0
		for w := range queryWords {
			if _, ok := d.keywords[w]; ok {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = d
		}
	}
	if best != nil && bestOverlap >= 2 {
		return best
	}

	fresh := newPendingDomain()
	m.pending = append(m.pending, fresh)
	if len(m.pending) > 10 {
		m.pending = m.pending[len(m.pending)-10:]
	}
	return fresh
}

func (m *Manager) spawnFromPendingLocked(domain *pendingDomain) (string, error) {
	top := domain.topKeywords(3)
	name := strings.Join(top, "-")
	if name == "" {
		name = fmt.Sprintf("auto-%d", len(m.metadata))
	}
	base := name
	for i := 1; ; i++ {
		if _, exists := m.metadata[name]; !exists {
			break
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}

	description := fmt.Sprintf("Auto-created for topics: %s", strings.Join(top, ", "))
	if _, err := m.createLocked(name, description, top); err != nil {
		return "", err
	}

	meta := m.metadata[name]
	meta.AutoSpawned = true
	if len(domain.queries) > 5 {
		meta.SpawnTriggerQueries = append([]string(nil), domain.queries[:5]...)
	} else {
		meta.SpawnTriggerQueries = append([]string(nil), domain.queries...)
	}

	// Drop the bucket and clear its queries from unmatched tracking.
	for i, d := range m.pending {
		if d == domain {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	matched := make(map[string]struct{}, len(domain.queries))
	for _, q := range domain.queries {
		matched[q] = struct{}{}
	}
	kept := m.unmatched[:0]
	for _, q := range m.unmatched {
		if _, ok := matched[q]; !ok {
			kept = append(kept, q)
		}
	}
	m.unmatched = kept

	return name, m.saveRegistry()
}

// pendingDomain accumulates unmatched queries that look topically
// related, tracking keyword frequencies for the coherence check.
type pendingDomain struct {
	queries  []string
	keywords map[string]int
	created  time.Time
}

func newPendingDomain() *pendingDomain {
	return &pendingDomain{keywords: make(map[string]int), created: time.Now()}
}

func (d *pendingDomain) addQuery(query string) {
	d.queries = append(d.queries, query)
	for w := range keywordSet(query) {
		d.keywords[w]++
	}
}

// coherence measures keyword concentration: the mean frequency of the
// top-3 keywords divided by the query count, clipped to 1.0. Queries
// that keep hitting the same few words score high.
func (d *pendingDomain) coherence() float64 {
	if len(d.queries) == 0 {
		return 0
	}
	top := d.topKeywords(3)
	if len(top) == 0 {
		return 0
	}
	sum := 0
	for _, w := range top {
		sum += d.keywords[w]
	}
	mean := float64(sum) / float64(len(top))
	return min(mean/float64(len(d.queries)), 1.0)
}

func (d *pendingDomain) topKeywords(n int) []string {
	type kw struct {
		word  string
		count int
	}
	all := make([]kw, 0, len(d.keywords))
	for w, c := range d.keywords {
		all = append(all, kw{w, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].word < all[j].word
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, k := range all {
		out[i] = k.word
	}
	return out
}

var routingStop = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "how": {}, "what": {},
	"when": {}, "this": {}, "that": {}, "can": {}, "should": {}, "does": {},
	"are": {}, "was": {}, "you": {}, "about": {}, "from": {}, "into": {},
}

// keywordSet extracts routing keywords: lowercased words of at least
// three letters, stopwords removed.
func keywordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:()[]{}\"'")
		if len(w) < 3 {
			continue
		}
		if _, stop := routingStop[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		out[strings.Trim(w, ".,!?;:()[]{}\"'")] = struct{}{}
	}
	return out
}
