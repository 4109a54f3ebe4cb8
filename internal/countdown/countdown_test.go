package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func nextTick(t *testing.T, c *Countdown) Tick {
	t.Helper()
	select {
	case tick := <-c.Ticks():
		return tick
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tick")
		return Tick{}
	}
}

func requireSilent(t *testing.T, c *Countdown) {
	t.Helper()
	select {
	case tick := <-c.Ticks():
		t.Fatalf("unexpected tick %+v", tick)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCountdownTicksEverySecondAndExpiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Start(20, 1)
	require.True(t, c.Active())

	expired := 0
	for want := 19; want >= 0; want-- {
		clock.Advance(time.Second)
		tick := nextTick(t, c)
		require.Equal(t, 1, tick.Generation)
		require.Equal(t, want, tick.Remaining)
		require.Equal(t, want == 0, tick.Expired)
		if tick.Expired {
			expired++
		}
	}
	require.Equal(t, 1, expired)

	clock.Advance(10 * time.Second)
	requireSilent(t, c)
	require.False(t, c.Active())
}

func TestCountdownCorrectsForLateTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Start(5, 7)

	clock.Advance(3 * time.Second)
	tick := nextTick(t, c)
	require.Equal(t, 2, tick.Remaining)
	require.False(t, tick.Expired)

	clock.Advance(4 * time.Second)
	tick = nextTick(t, c)
	require.Equal(t, 0, tick.Remaining)
	require.True(t, tick.Expired)
}

func TestCountdownCancelStopsTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Start(10, 1)

	clock.Advance(time.Second)
	require.Equal(t, 9, nextTick(t, c).Remaining)

	c.Cancel()
	require.False(t, c.Active())
	clock.Advance(30 * time.Second)
	requireSilent(t, c)
}

func TestCountdownRestartReplacesGeneration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Start(10, 1)
	clock.Advance(time.Second)
	require.Equal(t, 1, nextTick(t, c).Generation)

	c.Start(2, 2)
	clock.Advance(time.Second)
	tick := nextTick(t, c)
	require.Equal(t, 2, tick.Generation)
	require.Equal(t, 1, tick.Remaining)

	clock.Advance(time.Second)
	tick = nextTick(t, c)
	require.Equal(t, 2, tick.Generation)
	require.True(t, tick.Expired)
}

func TestCountdownZeroLimitExpiresImmediately(t *testing.T) {
	c := New(clockwork.NewFakeClock())
	c.Start(0, 3)
	tick := nextTick(t, c)
	require.True(t, tick.Expired)
	require.Equal(t, 3, tick.Generation)
	require.False(t, c.Active())
}

func TestSecondsUntilRoundsUp(t *testing.T) {
	now := time.Unix(0, 0)
	require.Equal(t, 0, secondsUntil(now, now))
	require.Equal(t, 0, secondsUntil(now, now.Add(time.Second)))
	require.Equal(t, 1, secondsUntil(now.Add(200*time.Millisecond), now))
	require.Equal(t, 3, secondsUntil(now.Add(2500*time.Millisecond), now))
}
