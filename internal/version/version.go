package version

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/chat-relay/internal/httpclient"
)

// Current is overridden at build time with -ldflags "-X .../internal/version.Current=v1.2.3".
var Current = "v0.0.0"

const releasesURL = "https://api.github.com/repos/nulzo/chat-relay/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
}

// Update is the outcome of comparing the running build against the latest release.
type Update struct {
	Current string
	Latest  string
}

func (u Update) Available() bool {
	return u.Latest != ""
}

// Checker looks up the latest published release.
type Checker struct {
	client httpclient.HTTPClient
	url    string
}

func NewChecker(client httpclient.HTTPClient) *Checker {
	return &Checker{client: client, url: releasesURL}
}

// Check reports a newer release, if there is one. Latest is empty when the
// running build is current.
func (c *Checker) Check(ctx context.Context, running string) (Update, error) {
	var rel release
	if err := httpclient.SendRequest(ctx, c.client, http.MethodGet, c.url, nil, nil, &rel); err != nil {
		return Update{}, err
	}

	current, err := version.NewVersion(running)
	if err != nil {
		return Update{}, fmt.Errorf("invalid running version %q: %w", running, err)
	}

	latest, err := version.NewVersion(rel.TagName)
	if err != nil {
		return Update{}, fmt.Errorf("invalid release tag %q: %w", rel.TagName, err)
	}

	u := Update{Current: running}
	if current.LessThan(latest) {
		u.Latest = rel.TagName
	}
	return u, nil
}
