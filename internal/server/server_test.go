package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/internal/auth"
	"github.com/nulzo/chat-relay/internal/config"
	"github.com/nulzo/chat-relay/internal/gateway"
	"github.com/nulzo/chat-relay/internal/httpclient"
	"github.com/nulzo/chat-relay/internal/logsink"
	"github.com/nulzo/chat-relay/internal/metrics"
	"github.com/nulzo/chat-relay/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const clientToken = "relay-token"

type stubSink struct {
	fail    bool
	entries chan logsink.Entry
}

func (s *stubSink) Send(_ context.Context, entry logsink.Entry) error {
	s.entries <- entry
	if s.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

// stallingSink holds every send until the ingestor gives up on it.
type stallingSink struct {
	called chan struct{}
}

func (s *stallingSink) Send(ctx context.Context, _ logsink.Entry) error {
	select {
	case s.called <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	handler http.Handler
	hits    *atomic.Int32
	sink    *stubSink
	lastReq chan map[string]interface{}
}

type upstreamReply struct {
	status      int
	contentType string
	body        string
}

func newFixture(t *testing.T, reply upstreamReply, withDefault bool, failingSink bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		hits:    &atomic.Int32{},
		sink:    &stubSink{fail: failingSink, entries: make(chan logsink.Entry, 16)},
		lastReq: make(chan map[string]interface{}, 16),
	}

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastReq <- body

		w.Header().Set("Content-Type", reply.contentType)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(reply.status)
		_, _ = io.WriteString(w, reply.body)
	}))
	t.Cleanup(up.Close)

	gh, err := gateway.NewProfile("github", "", "@gh/", up.URL, "gh-key", gateway.RewriteLastSegment, 0)
	require.NoError(t, err)
	profiles := []*gateway.Profile{gh}
	if withDefault {
		cf, err := gateway.NewProfile("cloudflare", "", "", up.URL, "cf-key", gateway.RewriteNone, gateway.DefaultTokenFloor)
		require.NoError(t, err)
		profiles = append(profiles, cf)
	}
	table, err := gateway.NewTable(gateway.DefaultMarker, profiles)
	require.NoError(t, err)

	logger := zap.NewNop()
	recorder := metrics.New()

	ingestor := logsink.NewIngestor(logger, f.sink, recorder, logsink.Options{BufferSize: 8, Workers: 1, Timeout: time.Second})
	ingestor.Start(context.Background())
	t.Cleanup(ingestor.Stop)

	svc := gateway.NewService(logger, table, httpclient.NewClient(5*time.Second), ingestor, recorder)

	cfg := &config.Config{
		Server:  config.ServerConfig{Env: "test"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	f.handler = server.New(cfg, logger, svc, auth.NewStaticVerifier(clientToken), recorder).Handler()
	return f
}

func (f *fixture) post(body string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

const validBody = `{"model":"gh/meta/llama-3.1-405b","messages":[{"role":"user","content":"hello"}],"seed":7}`

func TestChatCompletions_Unauthorized(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: "{}"}, true, false)

	for _, token := range []string{"", "wrong"} {
		w := f.post(validBody, token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"title":"Unauthorized"`)
	}
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestChatCompletions_ValidationFailure(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: "{}"}, true, false)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing messages", `{"model":"gh/gpt-4o"}`, "messages"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "model"},
		{"temperature out of range", `{"model":"x","temperature":2.5,"messages":[{"role":"user","content":"hi"}]}`, "temperature"},
		{"top_p out of range", `{"model":"x","top_p":1.5,"messages":[{"role":"user","content":"hi"}]}`, "top_p"},
		{"null content", `{"model":"x","messages":[{"role":"user","content":null}]}`, "messages[0].content"},
		{"malformed json", `{"model":`, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(tt.body, clientToken)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var problem struct {
				Title  string            `json:"title"`
				Errors map[string]string `json:"errors"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
			assert.Equal(t, "Validation Error", problem.Title)
			assert.Contains(t, problem.Errors, tt.field)
		})
	}

	assert.Equal(t, int32(0), f.hits.Load())
	assert.Len(t, f.sink.entries, 0)
}

func TestChatCompletions_BufferedRelay(t *testing.T) {
	reply := `{"id":"chatcmpl-9","choices":[{"message":{"role":"assistant","content":"hi"}}]}`
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: reply}, true, false)

	w := f.post(validBody, clientToken)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reply, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "yes", w.Header().Get("X-Upstream"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	forwarded := <-f.lastReq
	assert.Equal(t, "llama-3.1-405b", forwarded["model"])
	assert.Equal(t, float64(7), forwarded["seed"])

	select {
	case entry := <-f.sink.entries:
		assert.JSONEq(t, validBody, string(entry.Event))
	case <-time.After(2 * time.Second):
		t.Fatal("log entry was not shipped")
	}
}

func TestChatCompletions_UpstreamErrorRelayed(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 429, contentType: "application/json", body: `{"error":{"message":"rate limited"}}`}, true, false)

	w := f.post(validBody, clientToken)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, `{"error":{"message":"rate limited"}}`, w.Body.String())
}

func TestChatCompletions_StreamRelay(t *testing.T) {
	chunks := "data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\ndata: [DONE]\n\n"
	f := newFixture(t, upstreamReply{status: 200, contentType: "text/plain", body: chunks}, true, false)

	w := f.post(`{"model":"@cf/meta/llama-3.1-8b-instruct","stream":true,"messages":[{"role":"user","content":"hi"}]}`, clientToken)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, chunks, w.Body.String())

	forwarded := <-f.lastReq
	assert.Equal(t, float64(2048), forwarded["max_tokens"])
	assert.Equal(t, true, forwarded["stream"])
}

func TestChatCompletions_StreamIsIncremental(t *testing.T) {
	gin.SetMode(gin.TestMode)

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: one\n\n")
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, "data: two\n\n")
	}))
	t.Cleanup(up.Close)
	t.Cleanup(unblock)

	cf, err := gateway.NewProfile("cloudflare", "", "", up.URL, "cf-key", gateway.RewriteNone, gateway.DefaultTokenFloor)
	require.NoError(t, err)
	table, err := gateway.NewTable(gateway.DefaultMarker, []*gateway.Profile{cf})
	require.NoError(t, err)

	sink := &stallingSink{called: make(chan struct{}, 1)}
	ingestor := logsink.NewIngestor(zap.NewNop(), sink, nil, logsink.Options{BufferSize: 8, Workers: 1, Timeout: 200 * time.Millisecond})
	ingestor.Start(context.Background())
	t.Cleanup(ingestor.Stop)

	svc := gateway.NewService(zap.NewNop(), table, httpclient.NewClient(5*time.Second), ingestor, nil)
	relay := httptest.NewServer(server.New(&config.Config{}, zap.NewNop(), svc, auth.NewStaticVerifier(clientToken), nil).Handler())
	t.Cleanup(relay.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	body := `{"model":"@cf/meta/llama-3.1-8b-instruct","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay.URL+"/v1/chat/completions", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+clientToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the upstream is still holding the rest of the stream
	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: one\n", first)

	select {
	case <-sink.called:
	case <-time.After(time.Second):
		t.Fatal("sink was never called")
	}

	unblock()
	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "\ndata: two\n\n", string(rest))
}

func TestChatCompletions_ModelNotFound(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: "{}"}, false, false)

	w := f.post(`{"model":"@cf/meta/llama","messages":[{"role":"user","content":"hi"}]}`, clientToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Model not found"}`, w.Body.String())
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestChatCompletions_UpstreamUnreachable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cf, err := gateway.NewProfile("cloudflare", "", "", "http://127.0.0.1:1", "k", gateway.RewriteNone, 0)
	require.NoError(t, err)
	table, err := gateway.NewTable(gateway.DefaultMarker, []*gateway.Profile{cf})
	require.NoError(t, err)
	svc := gateway.NewService(zap.NewNop(), table, httpclient.NewClient(time.Second), nil, nil)
	handler := server.New(&config.Config{}, zap.NewNop(), svc, auth.AllowAll(), nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"x","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Bad Gateway"`)
}

func TestChatCompletions_FailingSinkDoesNotAffectResponse(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: `{"id":"ok"}`}, true, true)

	w := f.post(validBody, clientToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"ok"}`, w.Body.String())

	select {
	case <-f.sink.entries:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, upstreamReply{status: 200, contentType: "application/json", body: "{}"}, true, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, []string{"github", "cloudflare"}, health.Providers)

	f.post(validBody, clientToken)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `chat_relay_dispatch_requests_total{provider="github",status="200"} 1`)
}
