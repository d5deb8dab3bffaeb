// Package logsink ships a copy of every dispatched request to an external log
// store without ever holding up the request that produced it.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/chat-relay/internal/config"
	"github.com/nulzo/chat-relay/internal/httpclient"
	"github.com/redis/go-redis/v9"
)

// Entry is the record written to the sink.
type Entry struct {
	DT      time.Time       `json:"dt"`
	Message string          `json:"message"`
	Event   json.RawMessage `json:"event"`
}

// NewEntry stamps a request body with the current time.
func NewEntry(model string, event []byte) Entry {
	return Entry{
		DT:      time.Now().UTC(),
		Message: fmt.Sprintf("chat completion request for model %s", model),
		Event:   json.RawMessage(event),
	}
}

// Sink delivers a single entry.
type Sink interface {
	Send(ctx context.Context, entry Entry) error
}

// HTTPSink posts entries to a bearer-authenticated ingestion endpoint.
type HTTPSink struct {
	url    string
	token  string
	client httpclient.HTTPClient
}

func NewHTTPSink(url, token string, client httpclient.HTTPClient) *HTTPSink {
	return &HTTPSink{url: url, token: token, client: client}
}

func (s *HTTPSink) Send(ctx context.Context, entry Entry) error {
	headers := map[string]string{}
	if s.token != "" {
		headers["Authorization"] = "Bearer " + s.token
	}
	return httpclient.SendRequest(ctx, s.client, http.MethodPost, s.url, headers, entry, nil)
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisSink appends entries to a Redis list for a downstream shipper to drain.
type RedisSink struct {
	client *redis.Client
	key    string
}

func NewRedisSink(opts RedisOptions) *RedisSink {
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		key = "chat-relay:requests"
	}
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		key: key,
	}
}

func (s *RedisSink) Send(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push log entry: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// FromConfig picks the sink named by log_sink.driver.
func FromConfig(cfg config.LogSinkConfig, client httpclient.HTTPClient) (Sink, error) {
	switch cfg.Driver {
	case config.SinkHTTP, "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("log_sink.url is required for the %s driver", config.SinkHTTP)
		}
		return NewHTTPSink(cfg.URL, cfg.Token, client), nil
	case config.SinkRedis:
		return NewRedisSink(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log sink driver: %s", cfg.Driver)
	}
}
