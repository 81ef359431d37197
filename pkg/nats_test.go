package pkg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSubject(t *testing.T) {
	tests := []struct {
		name string
		kind string
		id   string
		want string
	}{
		{name: "order", kind: RoomOrder, id: "42", want: "rooms.order.42"},
		{name: "table", kind: RoomTable, id: "T1", want: "rooms.table.T1"},
		{name: "restaurant", kind: RoomRestaurant, id: "R1", want: "rooms.restaurant.R1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoomSubject(tt.kind, tt.id))
		})
	}
}

func TestNATSRoomsWithoutServer(t *testing.T) {
	rooms, err := NewNATSRooms(NATSRoomsConfig{
		URL:           "nats://127.0.0.1:1",
		Name:          "tableside-test",
		ReconnectWait: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, rooms.Join(RoomOrder, "42"))
	require.NoError(t, rooms.Join(RoomOrder, "42"))
	assert.Equal(t, []string{"rooms.order.42"}, rooms.Joined())

	require.NoError(t, rooms.Close())
	require.NoError(t, rooms.Close())
	assert.ErrorIs(t, rooms.Join(RoomTable, "T1"), ErrRoomsClosed)
	assert.ErrorIs(t, rooms.Publish(RoomTable, "T1", []byte("{}")), ErrRoomsClosed)
	assert.Empty(t, rooms.Joined())
}
