package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tellbot/pkg/logx"
)

func TestNormalizeSpec(t *testing.T) {
	cases := map[string]string{
		"@hourly":   "@hourly",
		"0 * * * *": "0 * * * *",
		"30m":       "@every 30m0s",
		"@every 5m": "@every 5m",
		" 1h ":      "@every 1h0m0s",
	}
	for in, want := range cases {
		got, err := NormalizeSpec(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "soon", "-5m"} {
		_, err := NormalizeSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddCronValidates(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }
	assert.Error(t, s.AddCron("", "@hourly", 0, noop))
	assert.Error(t, s.AddCron("x", "@hourly", 0, nil))
	assert.Error(t, s.AddCron("x", "61 * * * *", 0, noop))
	require.NoError(t, s.AddCron("x", "@hourly", 0, noop))
	require.NoError(t, s.AddCron("x", "@daily", 0, noop))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "@daily", entries[0].Spec)
	assert.True(t, entries[0].Next.IsZero())
}

func TestRunNow(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	var calls atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, s.AddCron("job", "@hourly", time.Second, func(ctx context.Context) error {
		calls.Add(1)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return boom
	}))
	assert.ErrorIs(t, s.RunNow("job"), boom)
	assert.Equal(t, int32(1), calls.Load())
	assert.Error(t, s.RunNow("missing"))

	require.NoError(t, s.AddCron("panics", "@hourly", 0, func(context.Context) error { panic("x") }))
	assert.EqualError(t, s.RunNow("panics"), "panic: x")
}

func TestDisabledSkipsJobs(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop())
	ran := false
	require.NoError(t, s.AddCron("job", "@hourly", 0, func(context.Context) error { ran = true; return nil }))
	require.NoError(t, s.RunNow("job"))
	assert.False(t, ran)
}

func TestStartTriggersAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	fired := make(chan struct{}, 4)
	require.NoError(t, s.AddCron("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	s.Apply(Config{Enabled: true, Timezone: "Europe/Berlin"})
	assert.Len(t, s.Entries(), 1)
	assert.True(t, s.Remove("tick"))
	assert.False(t, s.Remove("tick"))
	s.Stop(context.Background())
}
