package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error
	got  []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.got = append(s.got, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"trade", " "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "session", "Session opened", ""))
	require.NoError(t, n.Notify(context.Background(), "trade", "Trade executed", ""))
	assert.Equal(t, []string{"Trade executed"}, s.got)
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "trade", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.got, 1)
}

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var bodies []map[string]string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		bodies = append(bodies, m)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("abc", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Trade executed", "R_100 EVEN"))

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), "Session closed", "s1"))

	require.Len(t, bodies, 2)
	assert.Equal(t, "/botabc/sendMessage", paths[0])
	assert.Equal(t, "42", bodies[0]["chat_id"])
	assert.Equal(t, "*Trade executed*\nR_100 EVEN", bodies[0]["text"])
	assert.Equal(t, "**Session closed**\ns1", bodies[1]["content"])
}

func TestSenderReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
