package rbac

import "testing"

func TestPatternMatch(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*", "/anything/at/all", true},
		{"/items", "/items", true},
		{"/items", "/items/1", false},
		{"/items/{id}", "/items/42", true},
		{"/items/{id}", "/items/42/edit", false},
		{"/items/{id}", "/items", false},
		{"/items/{id}", "/items/", false},
		{"/items/{id}/edit", "/items/42/edit", true},
		{"/roles/*", "/roles/abc", true},
		{"/roles/*", "/roles/abc/def", true},
		{"/roles/*", "/roles/", true},
		{"/roles/*", "/roles", false},
		{"/a/*/b", "/a/x/b", true},
		{"/a/*/b", "/a/x/y/b", true},
		{"/a/*/b", "/a/b", false},
		{"/a/*/b", "/a/x/c", false},
		{"/a/*/{id}/c", "/a/x/y/7/c", true},
		{"/users*", "/users", true},
		{"/users*", "/users-export", true},
		{"/users*", "/users/1", true},
		{"/users*", "/users/1/roles", true},
		{"/users*", "/user", false},
		{"/users*/edit", "/users/1/edit", false},
		{"/users*/edit", "/users-x/edit", true},
		{"/items/{id}.json", "/items/42.json", true},
		{"/items/{id}.json", "/items/.json", false},
		{"/items/{id}.json", "/items/42.xml", false},
		{"/items/{id}.json", "/items/4/2.json", false},
		{"/files/v{id}*", "/files/v2/a/b", true},
		{"/files/v{id}*", "/files/v", false},
		{"/r*s/{id}", "/roles/9", true},
		{"/r*s/{id}", "/rolex/9", false},
		{"/a*b*c", "/abc", true},
		{"/a*b*c", "/a-x-b-y-c", true},
		{"/a*b*c", "/a-x-c", false},
		{"/items/{id}", "items/42", false},
	}
	for _, tc := range cases {
		p, err := compilePattern(tc.pattern)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.pattern, err)
		}
		if got := p.match(tc.path); got != tc.want {
			t.Fatalf("%q match %q = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "  ", "roles", "/items/{", "/items/{}", "/items/{id", "/x/a}b", "/x/{a*}", "/x/{a{b}}"} {
		if _, err := compilePattern(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestWildcardDoesNotBlowUp(t *testing.T) {
	p, err := compilePattern("/*/*/*/*/*/*/*/*/z")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	path := "/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/a/y"
	if p.match(path) {
		t.Fatal("unexpected match")
	}
}
