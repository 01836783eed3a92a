package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// GitHubName is the host name for GitHub hosted packages.
const GitHubName = "GitHub"

const (
	defaultGitHubAPI = "https://api.github.com"
	defaultGitHubRaw = "https://raw.githubusercontent.com"

	// maxRemoteFile bounds a single fetched file.
	maxRemoteFile = 32 << 20
)

// GitHubOptions configures the transport of every GitHub provider built by
// the factory. Zero values select the public endpoints.
type GitHubOptions struct {
	Client    *http.Client
	APIBase   string
	RawBase   string
	UserAgent string
}

// GitHub fetches packages from repositories owned by Config.Root. With an
// auth token it uses the contents API, which returns a blob sha usable as
// ETag. Without one it reads raw content and leaves hashing to the caller.
type GitHub struct {
	client    *http.Client
	apiBase   string
	rawBase   string
	userAgent string
	owner     string
	token     string
	cfgRepo   string
	cfgRef    string
}

// GitHubFactory returns a Factory sharing one transport across tenants.
func GitHubFactory(o GitHubOptions) Factory {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.APIBase == "" {
		o.APIBase = defaultGitHubAPI
	}
	if o.RawBase == "" {
		o.RawBase = defaultGitHubRaw
	}
	return func(cfg Config) (Provider, error) {
		if cfg.Root == "" {
			return nil, xerrors.New("github provider requires root (repository owner)")
		}
		repo, ref := cfg.ConfigRepo()
		return &GitHub{
			client:    o.Client,
			apiBase:   strings.TrimRight(o.APIBase, "/"),
			rawBase:   strings.TrimRight(o.RawBase, "/"),
			userAgent: o.UserAgent,
			owner:     cfg.Root,
			token:     cfg.Auth,
			cfgRepo:   repo,
			cfgRef:    ref,
		}, nil
	}
}

func (p *GitHub) Name() string { return GitHubName }

func (p *GitHub) GetFile(ctx context.Context, filePath, pkg string) (*File, error) {
	clean, ref := SplitRef(filePath)
	if ref == "" {
		ref = DefaultRef
	}
	return p.fetch(ctx, pkg, ref, clean)
}

func (p *GitHub) GetConfigFile(ctx context.Context, filePath string) ([]byte, error) {
	f, err := p.fetch(ctx, p.cfgRepo, p.cfgRef, filePath)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

func (p *GitHub) fetch(ctx context.Context, repo, ref, filePath string) (*File, error) {
	filePath = strings.TrimPrefix(filePath, "/")
	id := fmt.Sprintf("%s/%s@%s:%s", p.owner, repo, ref, filePath)
	if repo == "" || filePath == "" {
		return nil, notFound("github", id, nil)
	}
	if p.token != "" {
		return p.fetchContents(ctx, id, repo, ref, filePath)
	}
	return p.fetchRaw(ctx, id, repo, ref, filePath)
}

func (p *GitHub) fetchContents(ctx context.Context, id, repo, ref, filePath string) (*File, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		p.apiBase, url.PathEscape(p.owner), url.PathEscape(repo), escapePath(filePath), url.QueryEscape(ref))
	body, err := p.get(ctx, u, map[string]string{
		"Authorization": "token " + p.token,
		"Accept":        "application/vnd.github.v3+json",
	})
	if err != nil {
		return nil, notFound("github contents", id, err)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() || doc.Get("type").String() != "file" {
		return nil, notFound("github contents", id, xerrors.New("not a file"))
	}
	if enc := doc.Get("encoding").String(); enc != "base64" {
		return nil, notFound("github contents", id, xerrors.Newf("unsupported encoding %q", enc))
	}
	// the api wraps base64 at 60 columns
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(doc.Get("content").String(), "\n", ""))
	if err != nil {
		return nil, notFound("github contents", id, err)
	}
	return &File{
		Name:    path.Base(filePath),
		Content: content,
		SHA:     doc.Get("sha").String(),
	}, nil
}

func (p *GitHub) fetchRaw(ctx context.Context, id, repo, ref, filePath string) (*File, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s",
		p.rawBase, url.PathEscape(p.owner), url.PathEscape(repo), url.PathEscape(ref), escapePath(filePath))
	body, err := p.get(ctx, u, nil)
	if err != nil {
		return nil, notFound("github raw", id, err)
	}
	return &File{Name: path.Base(filePath), Content: body}, nil
}

func (p *GitHub) get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, xerrors.Newf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteFile+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "read body")
	}
	if len(body) > maxRemoteFile {
		return nil, xerrors.Newf("file exceeds %d bytes", maxRemoteFile)
	}
	return body, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
