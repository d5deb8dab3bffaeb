package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitTracer(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitTracer("chat-relay-test", "v0.0.0", zap.NewNop(), &out)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "dispatch")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "dispatch")
	assert.Contains(t, out.String(), "chat-relay-test")
}
