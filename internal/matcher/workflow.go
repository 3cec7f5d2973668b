package matcher

import "strings"

// Workflow is a multi-step plan detected in an intent. Pipeline is empty when no known shape matched.
type Workflow struct {
	Pipeline   string   `json:"pipeline,omitempty"`
	ServiceIDs []string `json:"serviceIds"`
}

type pipeline struct {
	name  string
	steps []string // capability substrings, in execution order
}

var pipelines = []pipeline{
	{name: "search-sentiment", steps: []string{"search", "sentiment"}},
	{name: "search-summarization", steps: []string{"search", "summar"}},
	{name: "image-text", steps: []string{"image", "text"}},
}

// DetectWorkflow looks for a known pipeline among the high-confidence matches.
// Without one it returns every high-confidence match id.
func (m *Matcher) DetectWorkflow(intent string) Workflow {
	var strong []Match
	for _, mt := range m.Match(intent, 0) {
		if mt.Score > highConfidence {
			strong = append(strong, mt)
		}
	}

	for _, p := range pipelines {
		if ids, ok := assign(p, strong); ok {
			return Workflow{Pipeline: p.name, ServiceIDs: ids}
		}
	}

	ids := make([]string, 0, len(strong))
	for _, mt := range strong {
		ids = append(ids, mt.ServiceID)
	}
	return Workflow{ServiceIDs: ids}
}

// assign picks the best-scoring distinct service for each step. strong is already sorted.
func assign(p pipeline, strong []Match) ([]string, bool) {
	used := make(map[string]bool, len(p.steps))
	ids := make([]string, 0, len(p.steps))
	for _, step := range p.steps {
		found := ""
		for _, mt := range strong {
			if used[mt.ServiceID] {
				continue
			}
			if hasCapabilityLike(mt, step) {
				found = mt.ServiceID
				break
			}
		}
		if found == "" {
			return nil, false
		}
		used[found] = true
		ids = append(ids, found)
	}
	return ids, true
}

func hasCapabilityLike(mt Match, fragment string) bool {
	for _, c := range mt.Service.Capabilities {
		if strings.Contains(c, fragment) {
			return true
		}
	}
	return false
}
