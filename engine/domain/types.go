// Package domain defines the section, candidate and error types shared by the
// chunking, ingestion and retrieval stages. It is also the validation gate for
// user queries at the service boundary.
package domain

import "strings"

// SectionIDPrefix tags every section id so ids never collide with other
// kinds of stored items.
const SectionIDPrefix = "sec_"

// Metadata keys stored with every section.
const (
	MetaTitle      = "title"
	MetaCollection = "collection"
)

// Section is a labeled span of document text keyed by its numeric heading.
type Section struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SectionID derives the stable id for a heading label: "5.3" -> "sec_5_3".
func SectionID(label string) string {
	return SectionIDPrefix + strings.ReplaceAll(label, ".", "_")
}

// LabelFromID reverses SectionID. It returns "" for ids without the prefix.
func LabelFromID(id string) string {
	if !strings.HasPrefix(id, SectionIDPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.TrimPrefix(id, SectionIDPrefix), "_", ".")
}

// ParentLabel returns the enclosing heading label: "11.1.2" -> "11.1",
// "5.3" -> "5". A single-group label has no parent.
func ParentLabel(label string) string {
	i := strings.LastIndexByte(label, '.')
	if i <= 0 {
		return ""
	}
	return label[:i]
}

// Candidate is a transient per-query retrieval result.
type Candidate struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Distance   float64           `json:"distance"`
	Score      float64           `json:"score,omitempty"`
}

// Title returns the section title recorded in the candidate metadata.
func (c Candidate) Title() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaTitle]
}

// Mode selects how the retrieval engine resolves a query.
type Mode int

const (
	ModeSingleBest Mode = iota
	ModeReranked
)

func (m Mode) String() string {
	switch m {
	case ModeSingleBest:
		return "single-best"
	case ModeReranked:
		return "reranked-top-k"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single-best", "best":
		return ModeSingleBest, true
	case "reranked-top-k", "reranked", "rerank":
		return ModeReranked, true
	}
	return ModeSingleBest, false
}
