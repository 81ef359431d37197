package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderUpdatedEventOrderID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "id", payload: `{"id":"o-1","status":"ready"}`, want: "o-1"},
		{name: "legacyID", payload: `{"_id":"o-2","status":"ready"}`, want: "o-2"},
		{name: "bothPrefersID", payload: `{"id":"o-3","_id":"old","status":"ready"}`, want: "o-3"},
		{name: "none", payload: `{"status":"ready"}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev OrderUpdatedEvent
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &ev))
			assert.Equal(t, tt.want, ev.OrderID())
			assert.Equal(t, "ready", ev.Status)
		})
	}
}
