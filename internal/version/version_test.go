package version

import (
	"runtime"
	"testing"
)

func TestGoFallsBackToRuntime(t *testing.T) {
	saved := GoVersion
	t.Cleanup(func() { GoVersion = saved })

	GoVersion = ""
	if got := Go(); got != runtime.Version() {
		t.Errorf("Go() = %q, want %q", got, runtime.Version())
	}
	GoVersion = "go1.99"
	if got := Go(); got != "go1.99" {
		t.Errorf("Go() = %q, want stamped value", got)
	}
}
