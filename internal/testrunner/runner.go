// Package testrunner runs tenant-hosted test suites on demand. Each suite
// is a module that registers hooks and tagged cases; the runner executes
// them in order, times every case, and captures failures without stopping
// the rest of the suite.
package testrunner

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/log"
)

type SuiteSpec struct {
	// Name is the package path of the suite module.
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type RunRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	TestSuites  []SuiteSpec `json:"testSuites"`
	Params      any         `json:"params"`
}

// Failure is empty for a passing case.
type Failure struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type CaseSummary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Failure     Failure `json:"failure"`
	// Time is in milliseconds.
	Time float64 `json:"time"`
}

type SuiteSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Tests       int           `json:"tests"`
	Failures    int           `json:"failures"`
	Time        float64       `json:"time"`
	TestCases   []CaseSummary `json:"testcases"`
}

type RunSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tests       int            `json:"tests"`
	Failures    int            `json:"failures"`
	Time        float64        `json:"time"`
	TestSuites  []SuiteSummary `json:"testSuites"`
}

// Observer counts runs.
type Observer interface {
	IncTestRun()
}

type Options struct {
	Loader   codeexec.SuiteLoader
	Observer Observer
	// Now is overridable for tests.
	Now func() time.Time
}

type Runner struct {
	loader codeexec.SuiteLoader
	obs    Observer
	now    func() time.Time
}

func New(opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{loader: opts.Loader, obs: opts.Observer, now: opts.Now}
}

// Run executes every suite of req for the tenant generation given by base
// (its Path is ignored). A suite that cannot be loaded, or whose all-hooks
// fail, is reported with no tests and one failure.
func (r *Runner) Run(ctx context.Context, base codeexec.ModuleRef, req RunRequest) RunSummary {
	if r.obs != nil {
		r.obs.IncTestRun()
	}
	sum := RunSummary{
		Name:        req.Name,
		Description: req.Description,
		TestSuites:  make([]SuiteSummary, 0, len(req.TestSuites)),
	}
	L := log.FromContext(ctx)
	for _, spec := range req.TestSuites {
		ref := base
		ref.Path = spec.Name
		ss, err := r.runSuite(ctx, ref, spec, req.Params)
		if err != nil {
			L.Warn(ctx, "test suite failed", "suite", spec.Name, "reason", err.Error())
			sum.Failures++
			sum.TestSuites = append(sum.TestSuites, SuiteSummary{
				Name:        spec.Name,
				Description: spec.Description,
				Failures:    1,
				TestCases:   []CaseSummary{},
			})
			continue
		}
		sum.Tests += ss.Tests
		sum.Failures += ss.Failures
		sum.Time = round3(sum.Time + ss.Time)
		sum.TestSuites = append(sum.TestSuites, ss)
	}
	return sum
}

func (r *Runner) runSuite(ctx context.Context, ref codeexec.ModuleRef, spec SuiteSpec, params any) (SuiteSummary, error) {
	ss := SuiteSummary{Name: spec.Name, Description: spec.Description, TestCases: []CaseSummary{}}
	if r.loader == nil {
		return ss, errors.New("no suite loader configured")
	}
	s, err := r.loader.LoadSuite(ctx, ref, params)
	if err != nil {
		return ss, err
	}
	defer s.Close()

	if err := s.RunHooks(ctx, codeexec.BeforeAll); err != nil {
		return ss, err
	}
	for i, c := range s.Cases() {
		if !selected(c.Tags, spec.Tags) {
			continue
		}
		if err := s.RunHooks(ctx, codeexec.BeforeEach); err != nil {
			return ss, err
		}
		cs := CaseSummary{Name: c.Name, Description: c.Description}
		start := r.now()
		err := s.RunCase(ctx, i)
		cs.Time = ms(r.now().Sub(start))
		ss.Tests++
		if err != nil {
			ss.Failures++
			cs.Failure = failureOf(err)
		}
		ss.Time = round3(ss.Time + cs.Time)
		ss.TestCases = append(ss.TestCases, cs)
		if err := s.RunHooks(ctx, codeexec.AfterEach); err != nil {
			return ss, err
		}
	}
	if err := s.RunHooks(ctx, codeexec.AfterAll); err != nil {
		return ss, err
	}
	return ss, nil
}

// selected reports whether a case with tags runs for a suite requesting
// want: untagged cases always run, tagged ones need a shared tag.
func selected(tags, want []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func failureOf(err error) Failure {
	var th *codeexec.Thrown
	if errors.As(err, &th) {
		typ := th.Type
		if typ == "" {
			typ = "error"
		}
		return Failure{Type: typ, Message: th.Message}
	}
	return Failure{Type: "error", Message: err.Error()}
}

func ms(d time.Duration) float64 {
	return round3(float64(d) / float64(time.Millisecond))
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
