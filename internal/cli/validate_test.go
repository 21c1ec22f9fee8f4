package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDocument = `{
  "type": "APL",
  "version": "1.4",
  "import": [{"name": "alexa-layouts", "version": "1.2.0"}],
  "extensions": [{"name": "Back", "uri": "aplext:backstack:10"}],
  "mainTemplate": {"parameters": ["payload"], "items": {"type": "Frame", "id": "f"}}
}`

const hubViewports = `[
  {"mode": "HUB", "shape": "RECTANGLE", "minWidth": 512, "maxWidth": 1024, "minHeight": 300, "maxHeight": 600}
]`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func runValidateCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestValidateValidDocument(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)

	buf, err := runValidateCmd(t, "text", doc)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Document valid")
	assert.Contains(t, output, "APL version: 1.4")
	assert.Contains(t, output, "Parameters:  payload")
	assert.Contains(t, output, "Imports:     alexa-layouts@1.2.0")
	assert.Contains(t, output, "Extensions:  aplext:backstack:10")
}

func TestValidateValidDocumentJSON(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)

	buf, err := runValidateCmd(t, "json", doc)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"payload"}, resp.Data.Parameters)
	assert.Equal(t, []string{"alexa-layouts@1.2.0"}, resp.Data.Imports)
}

func TestValidateNotAPL(t *testing.T) {
	doc := writeFile(t, "bad.json", `{"type": "Other", "mainTemplate": {}}`)

	buf, err := runValidateCmd(t, "text", doc)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, ErrCodeDocument)
	assert.Contains(t, output, "is not APL")
}

func TestValidateMissingDocument(t *testing.T) {
	buf, err := runValidateCmd(t, "text", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeGeneric+"]")
}

func TestValidateViewportsAndScaling(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)
	viewports := writeFile(t, "viewports.json", hubViewports)

	buf, err := runValidateCmd(t, "json", doc,
		"--viewports", viewports, "--width", "2048", "--height", "1200", "--dpi", "320")
	require.NoError(t, err, buf.String())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Viewports, 1)
	assert.Equal(t, "hub/rectangle w[512,1024] h[300,600]", resp.Data.Viewports[0])
	require.NotNil(t, resp.Data.Scaling)
	assert.Equal(t, 1.0, resp.Data.Scaling.ScaleFactor)
	assert.Equal(t, 1024.0, resp.Data.Scaling.Width)
	assert.Equal(t, 600.0, resp.Data.Scaling.Height)
}

func TestValidateViewportsWithoutSurface(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)
	viewports := writeFile(t, "viewports.json", hubViewports)

	buf, err := runValidateCmd(t, "text", doc, "--viewports", viewports)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Viewport:    hub/rectangle")
	assert.NotContains(t, buf.String(), "Chosen:")
}

func TestValidateBadViewports(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)
	viewports := writeFile(t, "viewports.json", "[\n  {\"mode\": \"WATCH\"}\n]")

	buf, err := runValidateCmd(t, "json", doc, "--viewports", viewports)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeViewports, resp.Error.Code)
	require.NotEmpty(t, resp.Data.Errors)
	for _, e := range resp.Data.Errors {
		assert.Equal(t, "viewports", e.Field)
	}
}

func TestValidateMalformedViewports(t *testing.T) {
	doc := writeFile(t, "home.json", validDocument)
	viewports := writeFile(t, "viewports.json", `[{"mode": `)

	buf, err := runValidateCmd(t, "text", doc, "--viewports", viewports)
	require.Error(t, err)
	assert.Contains(t, buf.String(), ErrCodeViewports)
}

func TestValidateHelpText(t *testing.T) {
	buf, err := runValidateCmd(t, "text", "--help")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "--viewports")
	assert.Contains(t, output, "--width")
	assert.Contains(t, output, "supportedViewports")
}
