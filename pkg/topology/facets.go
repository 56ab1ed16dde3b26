package topology

// FacetQuery constrains a lookup along categorical dimensions. Empty
// fields are unconstrained.
type FacetQuery struct {
	Diataxis   Diataxis
	Persona    string
	Confidence string
	Tags       []string
}

func (q FacetQuery) hasConstraints() bool {
	return q.Diataxis != "" || q.Persona != "" || q.Confidence != "" || len(q.Tags) > 0
}

// facetIndex is an inverted index from facet values to node IDs.
type facetIndex struct {
	byDiataxis   map[Diataxis]map[string]struct{}
	byPersona    map[string]map[string]struct{}
	byConfidence map[string]map[string]struct{}
	byTag        map[string]map[string]struct{}
}

func newFacetIndex() *facetIndex {
	return &facetIndex{
		byDiataxis:   make(map[Diataxis]map[string]struct{}),
		byPersona:    make(map[string]map[string]struct{}),
		byConfidence: make(map[string]map[string]struct{}),
		byTag:        make(map[string]map[string]struct{}),
	}
}

func (f *facetIndex) add(nodeID string, facets Facets) {
	if facets.Diataxis != "" {
		addToSet(f.byDiataxis, facets.Diataxis, nodeID)
	}
	if facets.Persona != "" {
		addToSet(f.byPersona, facets.Persona, nodeID)
	}
	if facets.Confidence != "" {
		addToSet(f.byConfidence, facets.Confidence, nodeID)
	}
	for _, tag := range facets.Tags {
		addToSet(f.byTag, tag, nodeID)
	}
}

func (f *facetIndex) remove(nodeID string) {
	removeFromSets(f.byDiataxis, nodeID)
	removeFromSets(f.byPersona, nodeID)
	removeFromSets(f.byConfidence, nodeID)
	removeFromSets(f.byTag, nodeID)
}

// query returns node IDs with their matched-constraint fraction.
func (f *facetIndex) query(q FacetQuery) map[string]float64 {
	type constraint struct {
		ids map[string]struct{}
	}
	var constraints []constraint
	if q.Diataxis != "" {
		constraints = append(constraints, constraint{f.byDiataxis[q.Diataxis]})
	}
	if q.Persona != "" {
		constraints = append(constraints, constraint{f.byPersona[q.Persona]})
	}
	if q.Confidence != "" {
		constraints = append(constraints, constraint{f.byConfidence[q.Confidence]})
	}
	for _, tag := range q.Tags {
		constraints = append(constraints, constraint{f.byTag[tag]})
	}
	if len(constraints) == 0 {
		return nil
	}

	hits := make(map[string]int)
	for _, c := range constraints {
		for id := range c.ids {
			hits[id]++
		}
	}

	scores := make(map[string]float64, len(hits))
	for id, n := range hits {
		scores[id] = float64(n) / float64(len(constraints))
	}
	return scores
}

func addToSet[K comparable](index map[K]map[string]struct{}, key K, id string) {
	if index[key] == nil {
		index[key] = make(map[string]struct{})
	}
	index[key][id] = struct{}{}
}

func removeFromSets[K comparable](index map[K]map[string]struct{}, id string) {
	for key, set := range index {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
