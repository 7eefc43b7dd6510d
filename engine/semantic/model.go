package semantic

// Payload keys written with every vector.
const (
	payloadContent   = "content"
	payloadSectionID = "section_id"
)

// SearchResult is a single backend hit. Score is cosine similarity; higher
// is closer.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta"`
}

// VectorRecord is a single vector to store. ID is the section id; backends
// that need a different key format derive it deterministically.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Content   string
	Meta      map[string]string
}

// Match is a collection query hit. Distance is 1 - cosine similarity, so
// lower is more relevant.
type Match struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}
