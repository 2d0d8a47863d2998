package swrcache

import "testing"

func TestKeyCanonicalization(t *testing.T) {
	cases := []struct {
		name string
		a, b Key
		same bool
	}{
		{"param order", NewKey("tasks", P("page", 1), P("phrase", "x")), NewKey("tasks", P("phrase", "x"), P("page", 1)), true},
		{"set order and dups", NewKey("tasks", SetP("state", "todo", "done")), NewKey("tasks", SetP("state", "done", "todo", "done")), true},
		{"different page", NewKey("tasks", P("page", 1)), NewKey("tasks", P("page", 2)), false},
		{"different kind", NewKey("me"), NewKey("tasks"), false},
		{"empty set vs absent", NewKey("tasks", SetP("state")), NewKey("tasks"), false},
		{"later param wins", NewKey("tasks", P("page", 1), P("page", 3)), NewKey("tasks", P("page", 3)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a == tc.b; got != tc.same {
				t.Fatalf("%q == %q: got %v want %v", tc.a, tc.b, got, tc.same)
			}
		})
	}
}

func TestKeyEscapesSeparators(t *testing.T) {
	// a phrase containing '&' must not be confused with a second parameter
	a := NewKey("tasks", P("phrase", "a&page=2"))
	b := NewKey("tasks", P("phrase", "a"), P("page", 2))
	if a == b {
		t.Fatalf("escaped and split keys collided: %s", a)
	}
	if got, want := NewKey("me").String(), "me"; got != want {
		t.Fatalf("String() = %q want %q", got, want)
	}
	if !(Key{}).IsZero() || NewKey("me").IsZero() {
		t.Fatal("IsZero")
	}
	if got := NewKey("tasks", P("page", 1)).Kind(); got != "tasks" {
		t.Fatalf("Kind() = %q", got)
	}
}
