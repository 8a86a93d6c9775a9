package lichess

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ndjson = `{"id":"g1","variant":"standard","moves":"e4 e5 Nf3","players":{"white":{"user":{"name":"alice"},"rating":1812},"black":{"user":{"name":"bob"},"rating":1790}}}
{"id":"g2","variant":"fromPosition","initialFen":"8/8/8/8/8/8/k7/4K3 w - - 0 1","moves":"Kd2","players":{"white":{"user":{"name":"bob"},"rating":1795},"black":{"user":{"name":"alice"},"rating":1820}}}
this is not json

{"id":"g3","variant":"standard","moves":"","players":{"white":{"user":{"name":"alice"},"rating":1830},"black":{"user":{"name":"carol"},"rating":2001}}}
`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok", Logger: zerolog.Nop()})
}

func TestListRecentGames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games/user/alice", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("max"))
		assert.Equal(t, "true", r.URL.Query().Get("moves"))
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(ndjson))
	})

	games, err := c.ListRecentGames(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, games, 3, "malformed and blank lines are skipped")

	assert.Equal(t, Game{
		ID:          "g1",
		Variant:     "standard",
		Moves:       []string{"e4", "e5", "Nf3"},
		White:       "alice",
		Black:       "bob",
		WhiteRating: 1812,
		BlackRating: 1790,
	}, games[0])
	assert.Equal(t, "8/8/8/8/8/8/k7/4K3 w - - 0 1", games[1].InitialFEN)
	assert.Empty(t, games[2].Moves)
	assert.Equal(t, []string{"g1", "g2", "g3"}, []string{games[0].ID, games[1].ID, games[2].ID})
}

func TestListRecentGames_TruncatesToMax(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ndjson))
	})
	games, err := c.ListRecentGames(context.Background(), "alice", 1)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "g1", games[0].ID)
}

func TestListRecentGames_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrUserNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrUnavailable},
		{"server error", http.StatusBadGateway, ErrUnavailable},
		{"forbidden", http.StatusForbidden, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := c.ListRecentGames(context.Background(), "alice", 3)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestListRecentGames_InvalidHandle(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	for _, h := range []string{"", "a", "bad/handle", "white space", strings.Repeat("x", 31)} {
		_, err := c.ListRecentGames(context.Background(), h, 3)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", h)
	}
	assert.False(t, called, "invalid handles never reach the archive")
}

func TestListRecentGames_ZeroMax(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	games, err := c.ListRecentGames(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.False(t, called)
}

func TestListRecentGames_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Logger: zerolog.Nop()})
	_, err := c.ListRecentGames(context.Background(), "alice", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestListRecentGames_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ListRecentGames(ctx, "alice", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
