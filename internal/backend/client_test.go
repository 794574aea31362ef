package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL + "/"
	return NewClient(cfg, zerolog.Nop())
}

func TestClient_FetchGreeting(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/greeting", r.URL.Path)
		assert.Equal(t, "avatarchat/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"role":"assistant","content":"Hi"}`))
	})

	replies, err := client.FetchGreeting(context.Background())
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hi", replies[0].Content)
}

func TestClient_Exchange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "price?", req.Message)

		w.Write([]byte(`{"messages":[{"role":"assistant","content":"$10"},{"role":"assistant","content":"Anything else?"}]}`))
	})

	replies, err := client.Exchange(context.Background(), "price?")
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "$10", replies[0].Content)
	assert.Equal(t, "Anything else?", replies[1].Content)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.Exchange(context.Background(), "hi")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "chat", te.Op)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Contains(t, te.Error(), "502")
}

func TestClient_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := client.FetchGreeting(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "greeting", te.Op)
	assert.Equal(t, http.StatusOK, te.StatusCode)
}

func TestClient_NullBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	})

	replies, err := client.Exchange(context.Background(), "hi")
	assert.Nil(t, replies)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "chat", te.Op)
}

func TestClient_EmptyReplyList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[]}`))
	})

	_, err := client.Exchange(context.Background(), "hi")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, ErrNoReplies))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultClientConfig()
	cfg.BaseURL = url
	client := NewClient(cfg, zerolog.Nop())

	_, err := client.Exchange(context.Background(), "hi")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 50 * time.Millisecond
	client := NewClient(cfg, zerolog.Nop())

	_, err := client.FetchGreeting(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "abc", truncateForLog("abc", 5))
	assert.Equal(t, "ab...", truncateForLog("abcdef", 2))
}
