package extract

import "testing"

func TestFromBlock(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Info
	}{
		{
			name: "full diff block",
			text: "src/utils.ts +42 -7 Accept",
			want: Info{Target: "utils.ts", AddedLines: 42, DeletedLines: 7},
		},
		{
			name: "filename only",
			text: "Reviewing main.go",
			want: Info{Target: "main.go"},
		},
		{
			name: "added only",
			text: "config.yaml +3",
			want: Info{Target: "config.yaml", AddedLines: 3},
		},
		{
			name: "unicode minus",
			text: "handler.py +5 −2",
			want: Info{Target: "handler.py", AddedLines: 5, DeletedLines: 2},
		},
		{
			name: "no filename",
			text: "Run command in terminal",
			want: Info{},
		},
		{
			name: "trailing punctuation stripped",
			text: "edited server.ts.",
			want: Info{Target: "server.ts"},
		},
		{
			name: "version number not a filename",
			text: "upgraded to 3.0.0 +1",
			want: Info{AddedLines: 1},
		},
		{
			name: "empty text",
			text: "   ",
			want: Info{},
		},
		{
			name: "first filename wins",
			text: "a.ts then b.ts +1 -1",
			want: Info{Target: "a.ts", AddedLines: 1, DeletedLines: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromBlock(tt.text); got != tt.want {
				t.Fatalf("FromBlock(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	if got := Target("apply to index.html now"); got != "index.html" {
		t.Fatalf("expected index.html, got %q", got)
	}
	if got := Target("nothing here"); got != "" {
		t.Fatalf("expected empty target, got %q", got)
	}
}
