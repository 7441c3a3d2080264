package schemas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSchemaFiles_ValidJSON(t *testing.T) {
	schemaFiles := []string{
		"content_draft.schema.json",
	}

	for _, schemaFile := range schemaFiles {
		t.Run(schemaFile, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(".", schemaFile))
			require.NoError(t, err, "should be able to read schema file")

			var v interface{}
			err = json.Unmarshal(data, &v)
			assert.NoError(t, err, "schema file should be valid JSON: %s", schemaFile)
		})
	}
}

func TestDraftSchemaDeclaresRequiredFields(t *testing.T) {
	data, err := os.ReadFile("content_draft.schema.json")
	require.NoError(t, err)

	var schema struct {
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.ElementsMatch(t, []string{"version", "topic", "schedule"}, schema.Required)
}
