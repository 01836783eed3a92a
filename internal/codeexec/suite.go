package codeexec

import "context"

// Case is one registered test case.
type Case struct {
	Name        string
	Description string
	Tags        []string
}

// Hook names.
const (
	BeforeAll  = "beforeAll"
	AfterAll   = "afterAll"
	BeforeEach = "beforeEach"
	AfterEach  = "afterEach"
)

// Suite is a test suite module after it registered its hooks and cases.
// Methods are called sequentially from one goroutine.
type Suite interface {
	Cases() []Case
	// RunHooks runs every hook registered under kind, in order, stopping
	// at the first failure.
	RunHooks(ctx context.Context, kind string) error
	// RunCase runs Cases()[i]. Exceptions from tenant code are *Thrown.
	RunCase(ctx context.Context, i int) error
	Close()
}

// SuiteLoader loads test suite modules. params is passed to the module.
type SuiteLoader interface {
	LoadSuite(ctx context.Context, ref ModuleRef, params any) (Suite, error)
}
