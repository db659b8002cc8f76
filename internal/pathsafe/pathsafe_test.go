package pathsafe

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		wantOK   bool
		wantSegs []string
	}{
		{"root", "/", true, []string{}},
		{"simple", "/aaa/bb/cc", true, []string{"aaa", "bb", "cc"}},
		{"percent-decoded", "/a%20b/c", true, []string{"a b", "c"}},
		{"trailing-slash", "/a/b/", true, []string{"a", "b"}},
		{"dot-segment", "/a/./b", false, nil},
		{"dotdot-segment", "/a/../b", false, nil},
		{"underscore-prefixed", "/_lib/secret", false, nil},
		{"nested-underscore", "/a/_hidden/b", false, nil},
		{"embedded-slash-encoded", "/a%2Fb/c", false, nil},
		{"embedded-backslash", "/a\\b/c", false, nil},
		{"bad-percent-encoding", "/a%zzb", false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if len(got.Segments) != len(tc.wantSegs) {
				t.Fatalf("Parse(%q) segments = %v, want %v", tc.in, got.Segments, tc.wantSegs)
			}
			for i := range tc.wantSegs {
				if got.Segments[i] != tc.wantSegs[i] {
					t.Fatalf("Parse(%q) segments = %v, want %v", tc.in, got.Segments, tc.wantSegs)
				}
			}
		})
	}
}
