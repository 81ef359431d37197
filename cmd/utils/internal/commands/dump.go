package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/appetiteclub/apt"
	"gopkg.in/yaml.v3"
)

// Dump writes every stored key as YAML. Values holding JSON are expanded so
// the cart and cached records read as structured data.
func Dump(ctx context.Context, path string, logger apt.Logger, w io.Writer) error {
	db, err := OpenStore(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := map[string]any{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		entries[key] = expand(value)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	logger.Debug("dumping store", "path", path, "entries", len(entries))

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"path": path, "entries": entries}); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func expand(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		switch decoded.(type) {
		case map[string]any, []any:
			return decoded
		}
	}
	return value
}
