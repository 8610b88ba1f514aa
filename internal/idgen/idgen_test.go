package idgen

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Fatalf("expected 36 chars, got %d (%q)", len(id), id)
	}
	if strings.Count(id, "-") != 4 {
		t.Fatalf("expected 4 dashes, got %q", id)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("sub_")
	if !strings.HasPrefix(id, "sub_") {
		t.Fatalf("expected sub_ prefix, got %q", id)
	}
	if len(id) != len("sub_")+24 {
		t.Fatalf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
