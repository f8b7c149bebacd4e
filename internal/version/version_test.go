package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldTime })

	Version, GitSHA, BuildTime = "0.3.1", "4f9c2d1a7be0c3e5d6", "2024-05-01T08:00:00Z"
	want := "rcf-run 0.3.1 (commit 4f9c2d1a7be0, built 2024-05-01T08:00:00Z)"
	if got := String("rcf-run"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
