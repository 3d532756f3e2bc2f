package models

// Evidence is a single cited unit of information. Once created it is never
// mutated - downstream stages only read and aggregate.
type Evidence struct {
	Kind          string                 `json:"kind"` // "web_result", "document_chunk", "bill_text"
	Label         string                 `json:"label"`
	URL           *string                `json:"url,omitempty"`
	Content       string                 `json:"content"`
	Excerpt       string                 `json:"excerpt"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ProducingTool string                 `json:"producing_tool"`
}

// EvidenceEnvelope groups evidence by the tool and query that produced it.
// Envelopes are append-only: the research stage creates them, later stages
// only aggregate them into prompts.
type EvidenceEnvelope struct {
	SourceTool  string     `json:"source_tool"`
	SourceQuery string     `json:"source_query"`
	Evidence    []Evidence `json:"evidence"`
}

// EnvelopeFromSearchResults wraps web search hits into an evidence envelope.
func EnvelopeFromSearchResults(tool, query string, results []SearchResult) EvidenceEnvelope {
	env := EvidenceEnvelope{
		SourceTool:  tool,
		SourceQuery: query,
		Evidence:    make([]Evidence, 0, len(results)),
	}
	for _, r := range results {
		url := r.URL
		meta := map[string]interface{}{}
		if r.PublishedDate != nil {
			meta["published_date"] = *r.PublishedDate
		}
		if r.RelevanceScore != nil {
			meta["relevance_score"] = *r.RelevanceScore
		}
		env.Evidence = append(env.Evidence, Evidence{
			Kind:          "web_result",
			Label:         r.Title,
			URL:           &url,
			Content:       r.Snippet,
			Excerpt:       r.Snippet,
			Metadata:      meta,
			ProducingTool: tool,
		})
	}
	return env
}
