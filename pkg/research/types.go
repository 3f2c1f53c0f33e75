package research

import (
	"encoding/json"
	"strings"
)

const (
	fallbackGoal = "Research the main query"
	defaultGoal  = "Research this topic thoroughly"
)

// SerpQuery is one sub-query proposed by the language model.
type SerpQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// ParseSerpQueries extracts the JSON array between the first '[' and the last
// ']' of resp. Any decode failure yields a single item for the user's query.
func ParseSerpQueries(resp, query string) []SerpQuery {
	fallback := []SerpQuery{{Query: query, ResearchGoal: fallbackGoal}}

	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end < start {
		return fallback
	}

	var raw []SerpQuery
	if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
		return fallback
	}

	queries := make([]SerpQuery, 0, len(raw))
	for _, q := range raw {
		q.Query = strings.TrimSpace(q.Query)
		if q.Query == "" {
			continue
		}
		if strings.TrimSpace(q.ResearchGoal) == "" {
			q.ResearchGoal = defaultGoal
		}
		queries = append(queries, q)
	}
	return queries
}

// ExtractLearnings keeps every non-empty trimmed line of resp that is not a
// markdown heading.
func ExtractLearnings(resp string) []string {
	var learnings []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		learnings = append(learnings, line)
	}
	return learnings
}
