package version_test

import (
	"strings"
	"testing"

	v "github.com/jspheredev/jsphere-gateway/internal/version"
)

func TestVCSDirtyExplicitWins(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	trueVal := true
	v.VCSDirty = &trueVal
	info := v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_AppName(t *testing.T) {
	if got := v.Get().AppName; got != v.AppName {
		t.Fatalf("AppName = %q, want %q", got, v.AppName)
	}
}

func TestUserAgent(t *testing.T) {
	ua := v.Get().UserAgent()
	if !strings.HasPrefix(ua, v.AppName+"/") {
		t.Fatalf("UserAgent = %q, want prefix %q", ua, v.AppName+"/")
	}
}
