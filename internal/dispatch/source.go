package dispatch

import (
	"context"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// ModuleSource reads handler module source straight from the package item
// cache, with the same generation check as the loader endpoint. It is the
// in-process alternative to codeexec.LoopbackSource.
type ModuleSource struct {
	Registry *tenant.Registry
	Resolver *pkgitem.Resolver
}

func (s *ModuleSource) ReadModule(ctx context.Context, ref codeexec.ModuleRef, path string) ([]byte, error) {
	t, ok := s.Registry.Get(ref.Host)
	if !ok {
		return nil, xerrors.Wrapf(codeexec.ErrModuleNotFound, "tenant %s not ready", ref.Host)
	}
	if t.Generation() != ref.Generation {
		return nil, xerrors.Wrapf(codeexec.ErrModuleNotFound, "generation %d of %s is gone", ref.Generation, ref.Host)
	}
	it, ok := s.Resolver.Resolve(ctx, t, path)
	if !ok {
		return nil, xerrors.Wrapf(codeexec.ErrModuleNotFound, "%s", path)
	}
	return it.Content, nil
}
