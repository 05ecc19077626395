// Package validator checks ingestion requests and reports per-field
// problems.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

const (
	maxIDLength       = 256
	maxMetadataKeys   = 64
	maxMetadataKeyLen = 128
	maxMetadataValLen = 4096
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f, e.Fields[f])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateIngestRequest checks id, content, format and metadata limits.
func ValidateIngestRequest(req *ingestion.IngestRequest, maxContentBytes int) error {
	errs := make(map[string]string)

	if req.ID != "" {
		if msg := checkID(req.ID); msg != "" {
			errs["id"] = msg
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		errs["content"] = "content is required"
	} else if len(req.Content) > maxContentBytes {
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", maxContentBytes)
	} else if !utf8.ValidString(req.Content) {
		errs["content"] = "content must be valid UTF-8"
	}
	switch req.Format {
	case "", tokenizer.FormatText, tokenizer.FormatMarkdown:
	default:
		errs["format"] = fmt.Sprintf("format must be %q or %q", tokenizer.FormatText, tokenizer.FormatMarkdown)
	}
	if msg := checkMetadata(req.Metadata); msg != "" {
		errs["metadata"] = msg
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateMetadata applies the request metadata limits to a merged map, such
// as request metadata combined with markdown front matter.
func ValidateMetadata(md map[string]string) error {
	if msg := checkMetadata(md); msg != "" {
		return &ValidationError{Fields: map[string]string{"metadata": msg}}
	}
	return nil
}

func checkMetadata(md map[string]string) string {
	if len(md) > maxMetadataKeys {
		return fmt.Sprintf("at most %d metadata keys are allowed", maxMetadataKeys)
	}
	for k, v := range md {
		if strings.TrimSpace(k) == "" {
			return "metadata keys must not be empty"
		}
		if len(k) > maxMetadataKeyLen {
			return fmt.Sprintf("metadata key %q exceeds %d bytes", k[:16], maxMetadataKeyLen)
		}
		if len(v) > maxMetadataValLen {
			return fmt.Sprintf("metadata value for %q exceeds %d bytes", k, maxMetadataValLen)
		}
	}
	return ""
}

// ValidateID checks a document id used in a path or delete request.
func ValidateID(id string) error {
	if id == "" {
		return &ValidationError{Fields: map[string]string{"id": "id is required"}}
	}
	if msg := checkID(id); msg != "" {
		return &ValidationError{Fields: map[string]string{"id": msg}}
	}
	return nil
}

func checkID(id string) string {
	if len(id) > maxIDLength {
		return fmt.Sprintf("id must be at most %d bytes", maxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' {
			return "id must not contain whitespace, control characters or '/'"
		}
	}
	return ""
}
