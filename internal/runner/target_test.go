package runner

import "testing"

func TestTargetURL(t *testing.T) {
	cases := []struct {
		name string
		task string
		want string
	}{
		{
			name: "url substring used verbatim",
			task: "go to https://example.com and read the title",
			want: "https://example.com",
		},
		{
			name: "plain text becomes search",
			task: "find cheapest flights to Tokyo",
			want: "https://www.google.com/search?q=find+cheapest+flights+to+Tokyo",
		},
		{
			name: "bare url",
			task: "https://ipinfo.io/json",
			want: "https://ipinfo.io/json",
		},
		{
			name: "http url",
			task: "check http://internal.local:8080/status please",
			want: "http://internal.local:8080/status",
		},
		{
			name: "first url wins",
			task: "compare https://a.example with https://b.example",
			want: "https://a.example",
		},
		{
			name: "quotes are escaped in search",
			task: `search for "best ramen"`,
			want: "https://www.google.com/search?q=search+for+%22best+ramen%22",
		},
		{
			name: "quoted url stops at quote",
			task: `open "https://example.com/page" now`,
			want: "https://example.com/page",
		},
		{
			name: "empty task opens start url",
			task: "",
			want: "about:blank",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TargetURL(tc.task, "about:blank")
			if got != tc.want {
				t.Errorf("TargetURL(%q) = %q, want %q", tc.task, got, tc.want)
			}
		})
	}
}

func TestTargetURLDeterministic(t *testing.T) {
	task := "find cheapest flights to Tokyo"
	first := TargetURL(task, "about:blank")
	for i := 0; i < 5; i++ {
		if got := TargetURL(task, "about:blank"); got != first {
			t.Fatalf("non-deterministic: %q vs %q", got, first)
		}
	}
}
