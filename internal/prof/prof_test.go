package prof

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/jspheredev/jsphere-gateway/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{Enabled: false, ServerAddress: "", ProfileMutexFraction: 999})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
	stop()
	if active.Load() {
		t.Fatal("labelling enabled without a profiler")
	}
}

func TestStart_EmptyServerAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: true, AppName: "jsphere-gateway"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if stop == nil {
		t.Fatal("stop must be callable after a failed start")
	}
	stop()
	if active.Load() {
		t.Fatal("labelling enabled after a failed start")
	}
}

func TestDo(t *testing.T) {
	label := func(ctx context.Context) (string, bool) { return pprof.Label(ctx, "dispatch_handler") }

	ran := false
	Do(context.Background(), "dynamic", func(ctx context.Context) {
		ran = true
		if _, ok := label(ctx); ok {
			t.Error("labelled while the profiler is stopped")
		}
	})
	if !ran {
		t.Fatal("fn not run")
	}

	active.Store(true)
	t.Cleanup(func() { active.Store(false) })
	Do(context.Background(), "static", func(ctx context.Context) {
		if v, ok := label(ctx); !ok || v != "static" {
			t.Errorf("label = %q, %v", v, ok)
		}
	})
}
