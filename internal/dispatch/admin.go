package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
	"github.com/jspheredev/jsphere-gateway/internal/testrunner"
)

const (
	pathHealthcheck = AdminPrefix + "healthcheck"
	pathResetTenant = AdminPrefix + "resettenant"
	pathRunTest     = AdminPrefix + "runtest"
)

// admin serves the built-in endpoints under AdminPrefix. Unknown admin paths
// and wrong methods fall through to the chain's 404.
type admin struct {
	reg   *tenant.Registry
	tests *testrunner.Runner
}

func (a *admin) Name() string { return "admin" }

func (a *admin) Handle(ctx context.Context, req *Request) (*Response, bool) {
	switch {
	case req.Path == pathHealthcheck && req.Method == http.MethodGet:
		return text(http.StatusOK, "OK"), true

	case req.Path == pathResetTenant && req.Method == http.MethodGet:
		existed := a.reg.Reset(req.Host)
		log.FromContext(ctx).Info(ctx, "tenant reset", "was_initialized", existed)
		return text(http.StatusOK, "Tenant application was reset."), true

	case req.Path == pathRunTest && req.Method == http.MethodPost && a.tests != nil:
		return a.runTests(ctx, req), true
	}
	return nil, false
}

func (a *admin) runTests(ctx context.Context, req *Request) *Response {
	L := log.FromContext(ctx)

	var rr testrunner.RunRequest
	if err := json.NewDecoder(req.HTTP.Body).Decode(&rr); err != nil {
		L.Warn(ctx, "invalid test run request", "reason", err.Error())
		return text(http.StatusInternalServerError, "invalid test run request: "+err.Error())
	}

	t, err := a.reg.Init(ctx, req.Host)
	if err != nil {
		return initFailure(ctx, req.Host, err)
	}

	base := codeexec.ModuleRef{Host: t.Hostname, Generation: t.Generation()}
	sum := a.tests.Run(ctx, base, rr)
	L.Info(ctx, "test run finished",
		"name", sum.Name,
		"suites", len(sum.TestSuites),
		"tests", sum.Tests,
		"failures", sum.Failures,
	)

	resp, err := apictx.JSON(sum, http.StatusOK)
	if err != nil {
		L.Error(ctx, err, "encode test run summary")
		return internalError()
	}
	return resp
}
