package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinna/internal/apperr"
	"cinna/internal/chat"
	"cinna/internal/gateway"
	"cinna/models"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "field errors sorted by field",
			err:  apperr.Validation(map[string]string{"password": "Password is required", "username": "Username is required"}),
			want: "password: Password is required\nusername: Username is required",
		},
		{
			name: "server fields",
			err:  &gateway.APIError{Status: http.StatusBadRequest, Fields: map[string]string{"password2": "Passwords do not match."}},
			want: "password2: Passwords do not match.",
		},
		{
			name: "server message",
			err:  fmt.Errorf("accept: %w", &gateway.APIError{Status: http.StatusBadRequest, Message: "Bidding is closed for tender TND-004"}),
			want: "Bidding is closed for tender TND-004",
		},
		{
			name: "plain error",
			err:  errors.New("invalid tender id \"x\""),
			want: "invalid tender id \"x\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.err))
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false, "maybe\n": false}
	for input, want := range tests {
		var out bytes.Buffer
		a := &app{in: bufio.NewReader(strings.NewReader(input)), out: &out}
		assert.Equal(t, want, a.confirm("Accept this bid?"), "input %q", input)
		assert.Equal(t, "Accept this bid? [y/N] ", out.String())
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("12", "tender")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseID(bad, "tender")
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Is the l…", truncate("Is the lot still available?", 9))
}

func TestTranscriptPrintsOnlyNewLines(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	msg := func(id, sender int, text string, at time.Time) chat.Entry {
		return chat.Confirmed{ChatMessage: models.ChatMessage{ID: id, Sender: models.Ref(sender), Message: text, CreatedAt: at}}
	}
	entries := []chat.Entry{
		msg(1, 2, "Hello", now.Add(-25*time.Hour)),
		msg(2, 1, "Hi, how can I help?", now.Add(-time.Hour)),
	}

	var out bytes.Buffer
	tr := &transcript{a: &app{out: &out}}
	tr.render(chat.GroupByDay(entries, 1, now))
	first := out.String()
	assert.Contains(t, first, "Yesterday")
	assert.Contains(t, first, "them: Hello")
	assert.Contains(t, first, "  me: Hi, how can I help?  (11:00, sent)")

	out.Reset()
	tr.render(chat.GroupByDay(entries, 1, now))
	assert.Empty(t, out.String())

	entries = append(entries, msg(3, 2, "Is the lot still available?", now.Add(-time.Minute)))
	tr.render(chat.GroupByDay(entries, 1, now))
	assert.NotContains(t, out.String(), "Today")
	assert.Contains(t, out.String(), "them: Is the lot still available?")
}

func TestStopSignalFiresOnce(t *testing.T) {
	s := newStopSignal()
	var calls atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire(func() { calls.Add(1) })
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	select {
	case <-s.done:
	default:
		t.Fatal("done is not closed")
	}
}
