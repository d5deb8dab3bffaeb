package logsink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulzo/chat-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry("@cf/meta/llama-3-8b-instruct", []byte(`{"model":"@cf/meta/llama-3-8b-instruct"}`))

	assert.Contains(t, e.Message, "@cf/meta/llama-3-8b-instruct")
	assert.Equal(t, time.UTC, e.DT.Location())
	assert.WithinDuration(t, time.Now(), e.DT, time.Second)
}

func TestHTTPSink_Send(t *testing.T) {
	received := make(chan map[string]json.RawMessage, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sink-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var out map[string]json.RawMessage
		assert.NoError(t, json.Unmarshal(body, &out))
		received <- out

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "sink-token", server.Client())
	event := []byte(`{"model":"@gh/openai/gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	err := sink.Send(context.Background(), NewEntry("@gh/openai/gpt-4o", event))
	require.NoError(t, err)

	out := <-received
	assert.Contains(t, out, "dt")
	assert.Contains(t, string(out["message"]), "@gh/openai/gpt-4o")
	assert.JSONEq(t, string(event), string(out["event"]))
}

func TestHTTPSink_SendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, "wrong", server.Client())
	assert.Error(t, sink.Send(context.Background(), NewEntry("m", []byte(`{}`))))
}

func TestRedisSink_Unreachable(t *testing.T) {
	sink := NewRedisSink(RedisOptions{Addr: "127.0.0.1:1"})
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	assert.Error(t, sink.Send(ctx, NewEntry("m", []byte(`{}`))))
}

func TestFromConfig(t *testing.T) {
	sink, err := FromConfig(config.LogSinkConfig{Driver: config.SinkHTTP, URL: "https://in.logs.example.com", Token: "t"}, http.DefaultClient)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSink{}, sink)

	sink, err = FromConfig(config.LogSinkConfig{Driver: config.SinkRedis, Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}, http.DefaultClient)
	require.NoError(t, err)
	require.IsType(t, &RedisSink{}, sink)
	assert.NoError(t, sink.(*RedisSink).Close())

	_, err = FromConfig(config.LogSinkConfig{Driver: config.SinkHTTP}, http.DefaultClient)
	assert.Error(t, err)

	_, err = FromConfig(config.LogSinkConfig{Driver: "kafka"}, http.DefaultClient)
	assert.Error(t, err)
}
