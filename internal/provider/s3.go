package provider

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jspheredev/jsphere-gateway/internal/pathutil"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// S3Name is the host name for packages published to an S3 bucket.
const S3Name = "S3"

// s3Getter is the subset of the S3 API needed to fetch objects.
// Extracted as an interface to enable unit testing without live AWS credentials.
type s3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads package files from s3://{root}/{package}/{ref}/{path}, the same
// layout raw.githubusercontent.com uses, so a CI job can publish a branch
// by syncing its checkout. The object ETag is passed through as content hash.
type S3 struct {
	client  s3Getter
	bucket  string
	prefix  string
	cfgRepo string
	cfgRef  string
}

// S3Factory returns a Factory sharing one S3 client across tenants.
// Config.Root is "bucket" or "bucket/prefix".
func S3Factory(client *s3.Client) Factory {
	return func(cfg Config) (Provider, error) {
		return newS3(client, cfg)
	}
}

func newS3(client s3Getter, cfg Config) (*S3, error) {
	bucket, prefix, _ := strings.Cut(cfg.Root, "/")
	if bucket == "" {
		return nil, xerrors.New("s3 provider requires root (bucket)")
	}
	repo, ref := cfg.ConfigRepo()
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		cfgRepo: repo,
		cfgRef:  ref,
	}, nil
}

func (p *S3) Name() string { return S3Name }

func (p *S3) GetFile(ctx context.Context, filePath, pkg string) (*File, error) {
	clean, ref := SplitRef(filePath)
	if ref == "" {
		ref = DefaultRef
	}
	return p.get(ctx, pkg, ref, clean)
}

func (p *S3) GetConfigFile(ctx context.Context, filePath string) ([]byte, error) {
	f, err := p.get(ctx, p.cfgRepo, p.cfgRef, filePath)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

func (p *S3) key(repo, ref, filePath string) string {
	parts := []string{repo, ref, strings.TrimPrefix(filePath, "/")}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (p *S3) get(ctx context.Context, repo, ref, filePath string) (*File, error) {
	key := p.key(repo, ref, filePath)
	id := "s3://" + p.bucket + "/" + key
	if repo == "" || pathutil.Escapes(key) {
		return nil, notFound("s3", id, nil)
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, notFound("s3", id, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxRemoteFile+1))
	if err != nil {
		return nil, notFound("s3", id, xerrors.Wrap(err, "read object"))
	}
	if len(body) > maxRemoteFile {
		return nil, notFound("s3", id, xerrors.Newf("object exceeds %d bytes", maxRemoteFile))
	}
	return &File{
		Name:    path.Base(key),
		Content: body,
		SHA:     strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}
