package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestStrings(t *testing.T) {
	oldV, oldC, oldD := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldV, oldC, oldD })

	Version, GitCommit, BuildDate = "v1.2.0", "abc1234", "2026-01-02"
	if got := String(); got != "v1.2.0 (abc1234)" {
		t.Fatalf("String() = %q", got)
	}
	full := Full()
	if !strings.Contains(full, "built 2026-01-02") || !strings.HasSuffix(full, runtime.Version()) {
		t.Fatalf("Full() = %q", full)
	}
	info := GetInfo()
	if info.Version != "v1.2.0" || info.Go != runtime.Version() {
		t.Fatalf("unexpected info %+v", info)
	}
}
