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

// execute runs the root command with a private database and no .env file.
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	full := append([]string{"--env", filepath.Join(t.TempDir(), "none.env")}, args...)
	if dbPath != "" {
		full = append(full, "--db", dbPath)
	}
	cmd.SetArgs(full)

	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	_, err := execute(t, path, "seed", "testdata/shop.yaml")
	require.NoError(t, err)
	return path
}

func TestSchemaValidate(t *testing.T) {
	out, err := execute(t, "", "schema", "validate", "testdata/schema")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schema valid: 4 table(s)")
	assert.Contains(t, out, "ORDER_DETAIL (order_fk, product_fk, quantity) junction ORDER x PRODUCT")
}

func TestSchemaValidateJSON(t *testing.T) {
	out, err := execute(t, "", "--format", "json", "schema", "validate", "testdata/schema")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   SchemaResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Tables, 4)
	assert.Equal(t, "CATEGORY", resp.Data.Tables[0].Name)
	assert.Equal(t, "CATEGORY_HISTORY", resp.Data.Tables[0].History)
}

func TestSchemaValidateFailures(t *testing.T) {
	_, err := execute(t, "", "schema", "validate", "/nonexistent/schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)

	out, err := execute(t, "", "schema", "validate", "testdata/badschema")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
	assert.Contains(t, out, "money")
}

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")

	out, err := execute(t, path, "seed", "testdata/shop.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Fixture shop applied: 5 created, 0 updated, 0 removed")
	assert.Contains(t, out, "✓ 2 expectation(s) met")
}

func TestSeedMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")

	out, err := execute(t, path, "seed", "testdata/mismatch.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "CATEGORY count: want 5, got 1")
}

func TestSeedMissingFixture(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "x.db"), "seed", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestGet(t *testing.T) {
	path := seededDB(t)

	out, err := execute(t, path, "get", "PRODUCT", "2", "--schema", "testdata/schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Bulb"`)

	out, err = execute(t, path, "get", "PRODUCT", "--schema", "testdata/schema",
		"--sort-by", "price", "--page-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Bulb"`)
	assert.NotContains(t, out, "Lamp")
	assert.Contains(t, out, "-- 2 record(s), page 1 of 2")
}

func TestGetJSONEnvelope(t *testing.T) {
	path := seededDB(t)

	out, err := execute(t, path, "--format", "json", "get", "CATEGORY", "1", "--schema", "testdata/schema")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Status int            `json:"status"`
			Data   map[string]any `json:"data"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 200, resp.Data.Status)
	assert.Equal(t, "default_name", resp.Data.Data["name"])
}

func TestGetFailures(t *testing.T) {
	path := seededDB(t)

	out, err := execute(t, path, "get", "PRODUCT", "9", "--schema", "testdata/schema")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]: record 9 not found")

	_, err = execute(t, path, "get", "NOPE", "--schema", "testdata/schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeUnknownTable)

	_, err = execute(t, path, "get", "PRODUCT", "abc", "--schema", "testdata/schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, path, "get", "PRODUCT", "--history", "--schema", "testdata/schema")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	path := seededDB(t)

	out, err := execute(t, path, "check", "ORDER_DETAIL", "--schema", "testdata/schema")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ ORDER_DETAIL: 1 row(s) checked, no problems")

	_, err = execute(t, path, "check", "PRODUCT", "--schema", "testdata/schema")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCheckRepairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shop.db")
	fixture := filepath.Join(dir, "orphan.yaml")
	schemaDir, err := filepath.Abs("testdata/schema")
	require.NoError(t, err)

	require.NoError(t, writeFile(fixture, `
name: orphan
schema: [`+schemaDir+`]
steps:
  - create: ORDER
    values: {customer: ann}
  - create: ORDER_DETAIL
    values: {order_fk: 1, product_fk: 7}
`))
	_, err = execute(t, path, "seed", fixture)
	require.NoError(t, err)

	out, err := execute(t, path, "check", "ORDER_DETAIL", "--schema", "testdata/schema")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "moved 1 junction row(s) to history")
	assert.Contains(t, out, "row 1 product_fk: references missing PRODUCT #7")
}

func TestServeFailsWithoutSchema(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "x.db"), "serve", "--schema", "/nonexistent/schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}
