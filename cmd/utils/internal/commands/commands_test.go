package commands

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/appetiteclub/apt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func seedStore(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tableside.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at INTEGER NOT NULL DEFAULT 0)`)
	require.NoError(t, err)
	for k, v := range entries {
		_, err := db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}
	return path
}

func keys(t *testing.T, path string) []string {
	t.Helper()
	db, err := OpenStore(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT key FROM kv ORDER BY key`)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		out = append(out, k)
	}
	return out
}

func fullStore(t *testing.T) string {
	return seedStore(t, map[string]string{
		cartKey:               `[{"_id":"A","name":"Prego","price":100,"qty":2,"customizations":[]}]`,
		restaurantKey:         "R1",
		tableRefPrefix + "R1": "T1",
		tokenRefPrefix + "R1": "tok1",
		namePrefix + "R1":     "Ana",
		phonePrefix + "R1":    "841234567",
		phonePrefix + "R2":    "849999999",
	})
}

func TestDump(t *testing.T) {
	path := fullStore(t)
	var buf bytes.Buffer

	require.NoError(t, Dump(context.Background(), path, apt.NewNoopLogger(), &buf))

	var out struct {
		Path    string         `yaml:"path"`
		Entries map[string]any `yaml:"entries"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, path, out.Path)
	assert.Len(t, out.Entries, 7)
	assert.Equal(t, "R1", out.Entries[restaurantKey])

	lines, ok := out.Entries[cartKey].([]any)
	require.True(t, ok, "cart is expanded into a list")
	require.Len(t, lines, 1)
	assert.Equal(t, "Prego", lines[0].(map[string]any)["name"])
}

func TestClearCart(t *testing.T) {
	path := fullStore(t)

	require.NoError(t, ClearCart(context.Background(), path, apt.NewNoopLogger()))

	remaining := keys(t, path)
	assert.NotContains(t, remaining, cartKey)
	assert.NotContains(t, remaining, restaurantKey)
	assert.Contains(t, remaining, tableRefPrefix+"R1")
}

func TestForgetTable(t *testing.T) {
	path := fullStore(t)
	logger := apt.NewNoopLogger()

	assert.ErrorIs(t, ForgetTable(context.Background(), path, logger, ""), ErrRestaurantRequired)
	require.NoError(t, ForgetTable(context.Background(), path, logger, "R1"))

	remaining := keys(t, path)
	assert.NotContains(t, remaining, tableRefPrefix+"R1")
	assert.NotContains(t, remaining, tokenRefPrefix+"R1")
	assert.Contains(t, remaining, namePrefix+"R1")
}

func TestForgetCustomer(t *testing.T) {
	path := fullStore(t)

	require.NoError(t, ForgetCustomer(context.Background(), path, apt.NewNoopLogger(), "R1"))

	remaining := keys(t, path)
	assert.NotContains(t, remaining, namePrefix+"R1")
	assert.NotContains(t, remaining, phonePrefix+"R1")
	assert.Contains(t, remaining, phonePrefix+"R2")
}

func TestOpenStoreMissingFile(t *testing.T) {
	_, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, ErrStoreMissing)
}
