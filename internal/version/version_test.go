package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseServer(t *testing.T, tag string) *Checker {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"tag_name":"` + tag + `"}`))
	}))
	t.Cleanup(server.Close)

	c := NewChecker(server.Client())
	c.url = server.URL
	return c
}

func TestCheck(t *testing.T) {
	u, err := releaseServer(t, "v1.4.0").Check(context.Background(), "v1.2.3")
	require.NoError(t, err)
	assert.True(t, u.Available())
	assert.Equal(t, "v1.4.0", u.Latest)

	u, err = releaseServer(t, "v1.2.3").Check(context.Background(), "v1.2.3")
	require.NoError(t, err)
	assert.False(t, u.Available())
}

func TestCheckInvalidTag(t *testing.T) {
	_, err := releaseServer(t, "nightly").Check(context.Background(), "v1.0.0")
	assert.Error(t, err)

	_, err = releaseServer(t, "v1.0.0").Check(context.Background(), "dev")
	assert.Error(t, err)
}
