package ids

import (
	"strings"
	"testing"
)

func TestGenerate_Format(t *testing.T) {
	for _, prefix := range []string{JobPrefix, RunPrefix, FilePrefix, TaskPrefix} {
		id, err := Generate(prefix)
		if err != nil {
			t.Fatalf("Generate(%q): %v", prefix, err)
		}
		if !strings.HasPrefix(id, prefix+"-") {
			t.Errorf("id %q missing prefix %q", id, prefix)
		}
		if len(id) != len(prefix)+6 {
			t.Errorf("id %q length = %d, want %d", id, len(id), len(prefix)+6)
		}
	}
}

func TestGenerate_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id, err := Generate(RunPrefix)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		seen[id] = true
	}
	// 100 draws from a 16^5 space colliding down to a handful would mean
	// the generator is broken, not unlucky.
	if len(seen) < 90 {
		t.Errorf("only %d distinct IDs out of 100", len(seen))
	}
}
