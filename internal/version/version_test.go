package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	defer func(v, sha string) { Version, GitSHA = v, sha }(Version, GitSHA)
	Version, GitSHA = "v1.2.0", "abc123"

	got := String()
	if !strings.Contains(got, "v1.2.0") || !strings.Contains(got, "abc123") {
		t.Errorf("String() = %q, want version and commit", got)
	}
}
