// Package ingestion defines the request/response types and change-event
// schema used by the document ingestion pipeline.
package ingestion

import "time"

// IngestRequest is the JSON body accepted by POST /ingest and by the Kafka
// ingest topic.
type IngestRequest struct {
	ID         string            `json:"id,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Format     string            `json:"format,omitempty"`
	CreateOnly bool              `json:"create_only,omitempty"`
}

// IngestResponse is returned once the document is committed and searchable.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Version    int64  `json:"version"`
	Generation uint64 `json:"generation"`
}

type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Deleted    bool   `json:"deleted"`
}

// Change event types published on the document-changes topic.
const (
	EventUpserted = "document.upserted"
	EventDeleted  = "document.deleted"
)

// ChangeEvent is the Kafka message payload produced after a write commits.
type ChangeEvent struct {
	Type       string            `json:"type"`
	DocumentID string            `json:"document_id"`
	Version    int64             `json:"version"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Generation uint64            `json:"generation"`
	At         time.Time         `json:"at"`
}
