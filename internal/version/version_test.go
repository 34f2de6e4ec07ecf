package version

import (
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	t.Parallel()

	info := GetInfo()
	if !strings.HasPrefix(info, Version+" (commit "+Commit) {
		t.Fatalf("unexpected info: %s", info)
	}
}
