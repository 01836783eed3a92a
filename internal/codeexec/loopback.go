package codeexec

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// maxModuleBytes caps a module fetched over the loader endpoint.
const maxModuleBytes = 8 << 20

// LoopbackSource reads modules through the gateway's own loader endpoint,
// the way an out-of-process runtime would.
type LoopbackSource struct {
	// BaseURL is the gateway's loopback address, e.g. http://127.0.0.1:8080.
	BaseURL   string
	Client    *http.Client
	UserAgent string
}

func (s *LoopbackSource) ReadModule(ctx context.Context, ref ModuleRef, path string) ([]byte, error) {
	u := strings.TrimRight(s.BaseURL, "/") + path + "?eTag=" + url.QueryEscape(ref.Token())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build loader request")
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	c := s.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "loader request %s", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, xerrors.Wrapf(ErrModuleNotFound, "%s", path)
	case resp.StatusCode != http.StatusOK:
		return nil, xerrors.Newf("loader %s: unexpected status %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read module %s", path)
	}
	if len(b) > maxModuleBytes {
		return nil, xerrors.Newf("module %s exceeds %d bytes", path, maxModuleBytes)
	}
	return b, nil
}
