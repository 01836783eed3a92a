package provider

import (
	"context"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/pathutil"
)

// FileSystemName is the host name for local directories.
const FileSystemName = "FileSystem"

// FileSystem serves packages as directories under a root. Revisions are
// ignored: a local checkout has exactly one.
type FileSystem struct {
	fsys       fs.FS
	configRepo string
}

// NewFileSystem roots the provider at cfg.Root on local disk.
func NewFileSystem(cfg Config) (Provider, error) {
	repo, _ := cfg.ConfigRepo()
	return NewFileSystemFS(os.DirFS(cfg.Root), repo), nil
}

// NewFileSystemFS serves from an arbitrary fs.FS.
func NewFileSystemFS(fsys fs.FS, configRepo string) *FileSystem {
	return &FileSystem{fsys: fsys, configRepo: configRepo}
}

func (p *FileSystem) Name() string { return FileSystemName }

func (p *FileSystem) GetFile(ctx context.Context, filePath, pkg string) (*File, error) {
	clean, _ := SplitRef(filePath)
	return p.read(ctx, pkg, clean)
}

func (p *FileSystem) GetConfigFile(ctx context.Context, filePath string) ([]byte, error) {
	f, err := p.read(ctx, p.configRepo, filePath)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

func (p *FileSystem) read(ctx context.Context, dir, filePath string) (*File, error) {
	rel := strings.TrimPrefix(filePath, "/")
	full := rel
	if dir != "" {
		full = dir + "/" + rel
	}
	if err := ctx.Err(); err != nil {
		return nil, notFound("read", full, err)
	}
	if pathutil.Escapes(full) || !fs.ValidPath(full) {
		return nil, notFound("read", full, fs.ErrInvalid)
	}
	b, err := fs.ReadFile(p.fsys, full)
	if err != nil {
		return nil, notFound("read", full, err)
	}
	return &File{Name: path.Base(full), Content: b}, nil
}
