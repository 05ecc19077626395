package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

func TestValidateIngestRequest(t *testing.T) {
	tests := []struct {
		name  string
		req   ingestion.IngestRequest
		field string
	}{
		{"valid", ingestion.IngestRequest{Content: "hello"}, ""},
		{"valid markdown with id", ingestion.IngestRequest{ID: "note-1", Content: "# hi", Format: "markdown"}, ""},
		{"blank content", ingestion.IngestRequest{Content: "  \n"}, "content"},
		{"content too large", ingestion.IngestRequest{Content: strings.Repeat("a", 101)}, "content"},
		{"bad format", ingestion.IngestRequest{Content: "x", Format: "html"}, "format"},
		{"id with slash", ingestion.IngestRequest{ID: "a/b", Content: "x"}, "id"},
		{"id with space", ingestion.IngestRequest{ID: "a b", Content: "x"}, "id"},
		{"id too long", ingestion.IngestRequest{ID: strings.Repeat("i", 300), Content: "x"}, "id"},
		{"empty metadata key", ingestion.IngestRequest{Content: "x", Metadata: map[string]string{"": "v"}}, "metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngestRequest(&tt.req, 100)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("d1"))
	assert.ErrorIs(t, ValidateID(""), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, ValidateID("x\ny"), apperrors.ErrInvalidInput)
}

func TestErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "a: one; b: two", err.Error())
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(map[string]string{"title": "ok"}))

	many := make(map[string]string, maxMetadataKeys+1)
	for i := range maxMetadataKeys + 1 {
		many[strings.Repeat("k", i+1)] = "v"
	}
	for _, md := range []map[string]string{
		many,
		{" ": "v"},
		{"title": strings.Repeat("x", maxMetadataValLen+1)},
	} {
		err := ValidateMetadata(md)
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "metadata")
	}
}
