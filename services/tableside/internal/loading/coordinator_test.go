package loading

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorTierResolution(t *testing.T) {
	tests := []struct {
		name       string
		full       int
		background int
		want       Tier
	}{
		{name: "idle", want: Idle},
		{name: "backgroundOnly", background: 2, want: Background},
		{name: "fullOnly", full: 1, want: Full},
		{name: "fullWinsOverBackground", full: 1, background: 3, want: Full},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator()
			for i := 0; i < tt.full; i++ {
				c.Start(Full)
			}
			for i := 0; i < tt.background; i++ {
				c.Start(Background)
			}

			state := c.State()
			assert.Equal(t, tt.want, state.Tier)
			assert.Equal(t, tt.want != Idle, state.IsLoading)
		})
	}
}

func TestCoordinatorStopClampsAtZero(t *testing.T) {
	c := NewCoordinator()

	c.Stop(Full)
	c.Stop(Background)
	c.Stop(Full)

	full, background := c.Counts()
	assert.Equal(t, 0, full)
	assert.Equal(t, 0, background)

	c.Start(Full)
	assert.Equal(t, Full, c.State().Tier, "a start after over-decrement must still raise the signal")
}

func TestCoordinatorRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		c := NewCoordinator()
		full, background := 0, 0

		for step := 0; step < 50; step++ {
			tier := Full
			if rng.Intn(2) == 0 {
				tier = Background
			}
			if rng.Intn(2) == 0 {
				c.Start(tier)
				if tier == Full {
					full++
				} else {
					background++
				}
			} else {
				c.Stop(tier)
				if tier == Full && full > 0 {
					full--
				}
				if tier == Background && background > 0 {
					background--
				}
			}

			gotFull, gotBackground := c.Counts()
			require.GreaterOrEqual(t, gotFull, 0)
			require.GreaterOrEqual(t, gotBackground, 0)
			require.Equal(t, full, gotFull)
			require.Equal(t, background, gotBackground)

			state := c.State()
			switch {
			case full > 0:
				require.Equal(t, Full, state.Tier)
			case background > 0:
				require.Equal(t, Background, state.Tier)
			default:
				require.Equal(t, Idle, state.Tier)
			}
		}
	}
}

func TestCoordinatorMessageClearedOnIdle(t *testing.T) {
	c := NewCoordinator()

	c.StartWithMessage(Full, "Placing order")
	assert.Equal(t, "Placing order", c.State().Message)

	c.Stop(Full)
	assert.Empty(t, c.State().Message)

	c.Start(Background)
	assert.Empty(t, c.State().Message, "message must not survive an idle transition")
}

func TestCoordinatorSubscribe(t *testing.T) {
	c := NewCoordinator()

	var got []State
	unsubscribe := c.Subscribe(func(s State) {
		got = append(got, s)
	})

	c.Start(Background)
	c.Start(Full)
	c.Stop(Full)
	c.Stop(Background)

	require.Len(t, got, 4)
	assert.Equal(t, Background, got[0].Tier)
	assert.Equal(t, Full, got[1].Tier)
	assert.Equal(t, Background, got[2].Tier)
	assert.Equal(t, Idle, got[3].Tier)

	unsubscribe()
	c.Start(Full)
	assert.Len(t, got, 4, "listener must not be called after unsubscribe")
}

func TestCoordinatorReset(t *testing.T) {
	c := NewCoordinator()
	c.Start(Full)
	c.Start(Full)
	c.Start(Background)

	var last State
	c.Subscribe(func(s State) { last = s })

	c.Reset()

	full, background := c.Counts()
	assert.Equal(t, 0, full)
	assert.Equal(t, 0, background)
	assert.False(t, last.IsLoading)
	assert.Equal(t, Idle, last.Tier)
}

func TestCoordinatorTrackStopsOnce(t *testing.T) {
	c := NewCoordinator()
	c.Start(Full)

	stop := c.Track(Full)
	stop()
	stop()

	full, _ := c.Counts()
	assert.Equal(t, 1, full, "a tracked stop must only undo its own start")
}

func TestCoordinatorConcurrentUse(t *testing.T) {
	c := NewCoordinator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tier := Full
			if i%2 == 0 {
				tier = Background
			}
			stop := c.Track(tier)
			defer stop()
			_ = c.State()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Idle, c.State().Tier)
}
