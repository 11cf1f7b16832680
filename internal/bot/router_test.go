package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, req *Request) error { return nil }

func testRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter("@DegenBot",
		Route{Command: "start", Handler: noop},
		Route{Command: "/help", Description: "list the commands", Handler: noop},
		Route{Command: "degenme", Args: "[overlay]", Handler: noop},
	)
	require.NoError(t, err)
	return r
}

func TestRouter_Parse(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{text: "/start", name: "start", ok: true},
		{text: "/DegenMe  hands ", name: "degenme", args: []string{"hands"}, ok: true},
		{text: "/degenme@degenbot shades", name: "degenme", args: []string{"shades"}, ok: true},
		{text: "/start@OtherBot", ok: false},
		{text: "hello /start", ok: false},
		{text: "/", ok: false},
		{text: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := r.Parse(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.name, name)
				assert.Equal(t, len(tt.args), len(args))
				for i := range tt.args {
					assert.Equal(t, tt.args[i], args[i])
				}
			}
		})
	}
}

func TestRouter_Suggest(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "degenm", want: "degenme", ok: true},
		{input: "strat", want: "start", ok: true},
		{input: "hlp", want: "help", ok: true},
		{input: "weather", ok: false},
	}

	for _, tt := range tests {
		got, ok := r.Suggest(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestRouter_Help(t *testing.T) {
	r := testRouter(t)

	assert.Equal(t, "Available commands:\n/start\n/help - list the commands\n/degenme [overlay]", r.Help())
}

func TestNewRouter_Invalid(t *testing.T) {
	_, err := NewRouter("", Route{Command: "start", Handler: noop}, Route{Command: "START", Handler: noop})
	assert.Error(t, err)

	_, err = NewRouter("", Route{Command: "start"})
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	limiter, err := NewRateLimiter(5, time.Minute, 100)
	require.NoError(t, err)
	defer limiter.Close()

	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.allowAt("1:1", now), "command %d", i)
	}
	assert.False(t, limiter.allowAt("1:1", now))
	assert.True(t, limiter.allowAt("1:2", now))

	// one token refills every window/limit
	assert.True(t, limiter.allowAt("1:1", now.Add(12*time.Second)))
	assert.False(t, limiter.allowAt("1:1", now.Add(12*time.Second)))

	_, err = NewRateLimiter(0, time.Minute, 100)
	assert.Error(t, err)
}

func TestSessionStore(t *testing.T) {
	store, err := NewSessionStore(100, time.Minute, nil)
	require.NoError(t, err)
	defer store.Close()

	key := SessionKey{ChatID: 1, UserID: 2}
	_, replaced := store.Put(Session{Key: key, PromptID: 10, AssetID: "hands"})
	assert.False(t, replaced)

	previous, replaced := store.Put(Session{Key: key, PromptID: 11, AssetID: "shades"})
	assert.True(t, replaced)
	assert.Equal(t, 10, previous.PromptID)

	_, status := store.Take(key, 10)
	assert.Equal(t, TakeMissing, status)

	session, status := store.Take(key, 11)
	assert.Equal(t, TakeOK, status)
	assert.Equal(t, "shades", session.AssetID)
	assert.False(t, session.CreatedAt.IsZero())

	_, status = store.Take(key, 11)
	assert.Equal(t, TakeMissing, status)

	_, err = NewSessionStore(100, 0, nil)
	assert.Error(t, err)
}

func TestSessionStore_CloseWaitsForExpiry(t *testing.T) {
	var started, finished atomic.Bool
	store, err := NewSessionStore(100, 20*time.Millisecond, func(Session) {
		started.Store(true)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)

	store.Put(Session{Key: SessionKey{ChatID: 1, UserID: 2}, PromptID: 10})
	require.Eventually(t, started.Load, 5*time.Second, 5*time.Millisecond)

	store.Close()
	assert.True(t, finished.Load())
}
