package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apex-trading/apex/internal/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name    string
	err     error
	calls   int
	title   string
	message string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.calls++
	s.title = title
	s.message = message
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func TestNotifier_DeliversToAllSenders(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	n := NewNotifier(a, b)

	require.NoError(t, n.Notify(context.Background(), "title", "msg"))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestNotifier_FailingSenderDoesNotBlockOthers(t *testing.T) {
	a := &fakeSender{name: "a", err: errors.New("down")}
	b := &fakeSender{name: "b"}
	n := NewNotifier(a, b)

	err := n.Notify(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Equal(t, 1, b.calls, "remaining senders must still be attempted")
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier()
	assert.NoError(t, n.Notify(context.Background(), "title", "msg"))
}

func TestNotifier_OperatorAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("candidate rejected", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier(s)
		sig := position.Signal{Chain: position.ChainSOL, Symbol: "TKN", Address: "mint-1"}
		n.CandidateRejected(ctx, position.ChainSOL, sig, "risk_score")
		assert.Equal(t, "REJECTED", s.title)
		assert.Contains(t, s.message, "risk_score")
		assert.Contains(t, s.message, "mint-1")
	})

	t.Run("autopilot toggled", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier(s)
		n.AutopilotChanged(ctx, false)
		assert.Equal(t, "AUTOPILOT OFF", s.title)
		n.AutopilotChanged(ctx, true)
		assert.Equal(t, "AUTOPILOT ON", s.title)
	})

	t.Run("close all", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier(s)
		n.CloseAllRequested(ctx, 3)
		assert.Equal(t, "CLOSE ALL", s.title)
		assert.Contains(t, s.message, "3 open position(s)")
	})
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTelegramSender("test-token", "chat-1")
	sender.baseURL = srv.URL

	require.NoError(t, sender.Send(context.Background(), "SNIPED", "details"))
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Contains(t, got["text"], "*SNIPED*")
	assert.Contains(t, got["text"], "details")
}

func TestTelegramSender_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewTelegramSender("test-token", "chat-1")
	sender.baseURL = srv.URL

	err := sender.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
