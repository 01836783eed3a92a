package health

import (
	"context"
	"sync/atomic"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// Checker reports nil when healthy, else the reason it is not.
type Checker interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// OK always passes.
func OK() CheckFunc { return func(context.Context) error { return nil } }

// Failing always fails with reason.
func Failing(reason string) CheckFunc {
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non-nil checker passes and returns the first
// failure otherwise.
func All(cs ...Checker) CheckFunc {
	return func(ctx context.Context) error {
		for _, c := range cs {
			if c == nil {
				continue
			}
			if err := c.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil checker passes.
func Any(cs ...Checker) CheckFunc {
	return func(ctx context.Context) error {
		err := xerrors.New("no checks passed")
		for _, c := range cs {
			if c == nil {
				continue
			}
			e := c.Check(ctx)
			if e == nil {
				return nil
			}
			err = e
		}
		return err
	}
}

// Gate is open until Close. A zero Gate is open.
type Gate struct {
	reason atomic.Pointer[string]
}

// Close fails the gate with reason, "draining" if empty.
func (g *Gate) Close(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *Gate) Open() { g.reason.Store(nil) }

func (g *Gate) Check(context.Context) error {
	if r := g.reason.Load(); r != nil {
		return xerrors.New(*r)
	}
	return nil
}

// Flag fails with its reason until Raise. Lower puts it back.
type Flag struct {
	up     atomic.Bool
	reason string
}

func NewFlag(reason string) *Flag { return &Flag{reason: reason} }

func (f *Flag) Raise()       { f.up.Store(true) }
func (f *Flag) Lower()       { f.up.Store(false) }
func (f *Flag) Raised() bool { return f.up.Load() }

func (f *Flag) Check(context.Context) error {
	if f.up.Load() {
		return nil
	}
	return xerrors.New(f.reason)
}
