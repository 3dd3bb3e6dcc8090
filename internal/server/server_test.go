package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/auth/login", want: true},
		{path: "/auth/refresh", want: false},
		{path: "/api/instagram/callback", want: true},
		{path: "/api/messenger/callback", want: true},
		{path: "/api/instagram/connect", want: false},
		{path: "/api/instagram/send-message", want: false},
		{path: "/api/ai/assign-chat", want: false},
		{path: "/api/stats", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
