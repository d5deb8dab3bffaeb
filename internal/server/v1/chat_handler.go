package v1

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/internal/gateway"
	"github.com/nulzo/chat-relay/internal/server/middleware"
	"github.com/nulzo/chat-relay/internal/server/validator"
	"github.com/nulzo/chat-relay/pkg/api"
	"go.uber.org/zap"
)

// hopHeaders are connection scoped and never copied from the upstream response.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

type ChatHandler struct {
	service   gateway.Service
	validator *validator.Validator
	logger    *zap.Logger
}

func NewChatHandler(service gateway.Service, v *validator.Validator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: v,
		logger:    logger,
	}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	// keeps the body around under gin.BodyBytesKey for forwarding
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	var raw []byte
	if body, ok := c.Get(gin.BodyBytesKey); ok {
		raw, _ = body.([]byte)
	}

	res, err := h.service.Dispatch(c.Request.Context(), &req, raw)
	if err != nil {
		var problem *api.Problem
		switch {
		case errors.Is(err, gateway.ErrNoProvider):
			c.JSON(http.StatusNotFound, api.ModelNotFound())
		case errors.As(err, &problem):
			_ = c.Error(problem)
		default:
			_ = c.Error(api.BadGatewayError("The upstream provider could not be reached", err))
		}
		return
	}
	defer func() {
		_ = res.Response.Body.Close()
	}()
	c.Set(middleware.ProviderKey, res.Profile.ID)

	if res.Stream {
		h.relayStream(c, res)
		return
	}
	h.relay(c, res)
}

// relay copies the upstream response as is.
func (h *ChatHandler) relay(c *gin.Context, res *gateway.Result) {
	header := c.Writer.Header()
	for k, values := range res.Response.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			header.Add(k, v)
		}
	}

	c.Status(res.Response.StatusCode)
	if _, err := io.Copy(c.Writer, res.Response.Body); err != nil {
		h.logger.Warn("Relay interrupted",
			zap.String("provider", res.Profile.ID),
			zap.Error(err),
		)
	}
}

// relayStream passes upstream chunks through as they arrive. The content type
// is always event-stream, but the status is the upstream's: an upstream 429 or
// 500 reaches the client as such instead of being answered with 200.
func (h *ChatHandler) relayStream(c *gin.Context, res *gateway.Result) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")

	c.Status(res.Response.StatusCode)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	buf := make([]byte, 32<<10)
	for {
		n, err := res.Response.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.logger.Debug("Client went away mid-stream", zap.String("provider", res.Profile.ID), zap.Error(werr))
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("Upstream stream ended abnormally",
					zap.String("provider", res.Profile.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}
