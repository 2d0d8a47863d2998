package util

import (
	"strings"
	"testing"
)

func TestStorageKeyShortIDsPassThrough(t *testing.T) {
	if got := StorageKey("retain:swr", "me"); got != "retain:swr:me" {
		t.Fatalf("got %q", got)
	}
}

func TestStorageKeyLongIDsAreHashedDeterministically(t *testing.T) {
	id := "task-list?phrase=" + strings.Repeat("x", 300)
	a := StorageKey("retain:swr", id)
	b := StorageKey("retain:swr", id)
	if a != b {
		t.Fatalf("not deterministic: %q vs %q", a, b)
	}
	if len(a) != len("retain:swr:#")+16 {
		t.Fatalf("unexpected hashed key %q", a)
	}
	if a == StorageKey("retain:swr", id+"y") {
		t.Fatalf("distinct ids hashed to the same key")
	}
}

func TestSortedSetDedupesWithoutMutatingInput(t *testing.T) {
	in := []string{"todo", "done", "todo", "icebox"}
	cp := append([]string(nil), in...)
	got := SortedSet(in)
	want := []string{"done", "icebox", "todo"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range in {
		if in[i] != cp[i] {
			t.Fatalf("input mutated at %d", i)
		}
	}
	if SortedSet(nil) != nil {
		t.Fatalf("nil input should yield nil")
	}
}
