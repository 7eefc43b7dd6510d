package metrics

import (
	"strconv"
	"time"
)

// RAG records the query service and ingestion metrics.
type RAG struct {
	reg *Registry
}

// NewRAG binds the RAG metric families to reg.
func NewRAG(reg *Registry) *RAG {
	return &RAG{reg: reg}
}

// Registry returns the underlying registry.
func (m *RAG) Registry() *Registry { return m.reg }

// Search records one retrieval call by mode and outcome.
func (m *RAG) Search(mode, outcome string, d time.Duration) {
	m.reg.Counter("rag_search_total", "Retrieval requests by mode and outcome", "mode", mode, "outcome", outcome).Inc()
	m.reg.Histogram("rag_search_duration_seconds", "Retrieval latency", nil, "mode", mode).Observe(d.Seconds())
}

// CollectionSkipped counts a collection left out of a candidate pool.
func (m *RAG) CollectionSkipped(collection string) {
	m.reg.Counter("rag_collection_skipped_total", "Collections skipped during retrieval", "collection", collection).Inc()
}

// Ingested records one ingested document.
func (m *RAG) Ingested(collection string, written, failed int, d time.Duration) {
	m.reg.Counter("rag_ingest_documents_total", "Documents ingested", "collection", collection).Inc()
	m.reg.Counter("rag_ingest_sections_written_total", "Sections upserted", "collection", collection).Add(int64(written))
	m.reg.Counter("rag_ingest_sections_failed_total", "Section upserts that failed", "collection", collection).Add(int64(failed))
	m.reg.Histogram("rag_ingest_duration_seconds", "Per-document ingestion latency", nil, "collection", collection).Observe(d.Seconds())
}

// IngestFailed counts a document whose ingestion returned an error.
func (m *RAG) IngestFailed(collection string) {
	m.reg.Counter("rag_ingest_errors_total", "Documents that failed to ingest", "collection", collection).Inc()
}

// HTTP records one served request.
func (m *RAG) HTTP(method, route string, status int, d time.Duration) {
	m.reg.Counter("rag_http_requests_total", "HTTP requests served", "method", method, "route", route, "status", strconv.Itoa(status)).Inc()
	m.reg.Histogram("rag_http_request_duration_seconds", "HTTP request latency", nil, "route", route).Observe(d.Seconds())
}
