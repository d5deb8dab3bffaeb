package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nulzo/chat-relay/internal/httpclient"
	"github.com/nulzo/chat-relay/internal/logsink"
	"github.com/nulzo/chat-relay/internal/metrics"
	"github.com/nulzo/chat-relay/pkg/api"
	"go.uber.org/zap"
)

// Service routes a validated chat completion request to one upstream provider.
type Service interface {
	// Dispatch forwards the request and returns the upstream response untouched.
	// raw is the inbound body the request was decoded from.
	Dispatch(ctx context.Context, req *api.ChatRequest, raw []byte) (*Result, error)

	Profiles() []*Profile
}

// Result carries the upstream response. The caller must close Response.Body.
type Result struct {
	Profile       *Profile
	Model         string
	UpstreamModel string
	Stream        bool
	Response      *http.Response
}

type service struct {
	logger   *zap.Logger
	table    *Table
	client   httpclient.HTTPClient
	ingestor logsink.Ingestor
	metrics  *metrics.Recorder
}

// NewService wires the dispatcher. ingestor and recorder may be nil.
func NewService(logger *zap.Logger, table *Table, client httpclient.HTTPClient, ingestor logsink.Ingestor, recorder *metrics.Recorder) Service {
	return &service{
		logger:   logger,
		table:    table,
		client:   client,
		ingestor: ingestor,
		metrics:  recorder,
	}
}

func (s *service) Profiles() []*Profile {
	return s.table.Profiles()
}

func (s *service) Dispatch(ctx context.Context, req *api.ChatRequest, raw []byte) (*Result, error) {
	payload, err := api.ParsePayload(raw)
	if err != nil {
		return nil, api.BadRequestError("request body must be a JSON object", api.WithLog(err))
	}

	model := Normalize(req.Model, s.table.Marker())

	profile, err := s.table.Resolve(model)
	if err != nil {
		s.logger.Warn("Provider routing failed", zap.String("model", model), zap.Error(err))
		return nil, err
	}

	upstreamModel := profile.UpstreamModel(model)

	body := payload.Clone()
	if err := body.Set("model", upstreamModel); err != nil {
		return nil, api.InternalError("failed to build upstream request", err)
	}
	if floor, ok := profile.TokenFloor(req.MaxTokens); ok {
		if err := body.Set("max_tokens", floor); err != nil {
			return nil, api.InternalError("failed to build upstream request", err)
		}
	}

	if s.ingestor != nil {
		s.ingestor.Log(logsink.NewEntry(model, raw))
	}

	start := time.Now()
	resp, err := httpclient.Forward(ctx, s.client, profile.BaseURL, profile.headers(), body)
	latency := time.Since(start)

	if err != nil {
		s.metrics.ObserveDispatch(profile.ID, 0, latency)
		s.logger.Error("Upstream request failed",
			zap.String("provider", profile.ID),
			zap.String("model", model),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, fmt.Errorf("provider %s: %w", profile.ID, err)
	}

	s.metrics.ObserveDispatch(profile.ID, resp.StatusCode, latency)
	s.logger.Info("Dispatched chat completion",
		zap.String("provider", profile.ID),
		zap.String("model", model),
		zap.String("upstream_model", upstreamModel),
		zap.Bool("stream", req.Stream),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)

	return &Result{
		Profile:       profile,
		Model:         model,
		UpstreamModel: upstreamModel,
		Stream:        req.Stream,
		Response:      resp,
	}, nil
}
