package huggingface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "fine-tuning-env/1.0 (Go)"

// ErrNotFound is returned when a model file does not exist in the source.
var ErrNotFound = errors.New("not found")

// NewHubClient returns a new client for the Hugging Face Hub.
func NewHubClient(endpoint, repoID, revision, token string) *HubClient {
	return &HubClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		repoID:   repoID,
		revision: revision,
		token:    token,
		httpClient: &http.Client{
			// No timeout. Shards of a 7B model take minutes.
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// HubClient downloads the files of a single model repository from the Hugging Face Hub.
type HubClient struct {
	endpoint string
	repoID   string
	revision string
	token    string

	httpClient *http.Client
}

// Download downloads the file at the given path of the repository.
func (c *HubClient) Download(ctx context.Context, w io.WriterAt, path string) error {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, c.repoID, url.PathEscape(c.revision), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: access denied (status %d); set a token with access to %q", path, resp.StatusCode, c.repoID)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	n, err := io.Copy(io.NewOffsetWriter(w, 0), resp.Body)
	if err != nil {
		return fmt.Errorf("%s: copy: %s", path, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("%s: short read: got %d bytes, want %d", path, n, resp.ContentLength)
	}
	return nil
}
