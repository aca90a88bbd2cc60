package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrAuthRequired marks a gated repository that needs hub credentials.
var ErrAuthRequired = errors.New("hub repository requires authentication")

// ErrRepoNotFound marks a repository id that does not exist on the hub.
var ErrRepoNotFound = errors.New("hub repository not found")

// RepoFile is one artifact listed by the hub for a repository.
type RepoFile struct {
	Rfilename string `json:"rfilename"`
	Size      int64  `json:"size"`
}

// RepoInfo is the hub's metadata for a model repository.
type RepoInfo struct {
	Siblings []RepoFile `json:"siblings"`
}

// TotalSize sums the listed artifact sizes; files with unknown size count
// as zero.
func (r RepoInfo) TotalSize() int64 {
	var total int64
	for _, f := range r.Siblings {
		if f.Size > 0 {
			total += f.Size
		}
	}
	return total
}

// Fetcher is the remote side the download tracker drives.
type Fetcher interface {
	RepoInfo(ctx context.Context, repoID string) (RepoInfo, error)
	Snapshot(ctx context.Context, repoID, destDir string) error
}

// Client talks to a Hugging Face style hub over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient returns a hub client for endpoint, e.g. "https://huggingface.co".
// token may be empty for public repositories.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// RepoInfo fetches the artifact listing for repoID.
func (c *Client) RepoInfo(ctx context.Context, repoID string) (RepoInfo, error) {
	u := fmt.Sprintf("%s/api/models/%s", c.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RepoInfo{}, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return RepoInfo{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, repoID); err != nil {
		return RepoInfo{}, err
	}

	var info RepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return RepoInfo{}, fmt.Errorf("decode repo info: %w", err)
	}
	return info, nil
}

// Snapshot downloads every listed artifact of repoID under destDir. Files
// are written through a temp name so a torn transfer never leaves a
// plausible-looking artifact behind.
func (c *Client) Snapshot(ctx context.Context, repoID, destDir string) error {
	info, err := c.RepoInfo(ctx, repoID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	for _, file := range info.Siblings {
		if err := c.fetchFile(ctx, repoID, file.Rfilename, destDir); err != nil {
			return fmt.Errorf("fetch %s: %w", file.Rfilename, err)
		}
	}
	return nil
}

func (c *Client) fetchFile(ctx context.Context, repoID, name, destDir string) error {
	u := fmt.Sprintf("%s/%s/resolve/main/%s", c.endpoint, repoID, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	// No client timeout here: weight files run to gigabytes.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, repoID); err != nil {
		return err
	}

	dest := filepath.Join(destDir, filepath.Base(name))
	tmp, err := os.CreateTemp(destDir, ".partial-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(code int, repoID string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthRequired, repoID)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRepoNotFound, repoID)
	case code >= 300:
		return fmt.Errorf("hub returned status %d for %s", code, repoID)
	}
	return nil
}
