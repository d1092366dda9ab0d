package action

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		ariaLabel string
		title     string
		want      Type
		ok        bool
	}{
		{name: "accept all beats accept", text: "Accept All", want: AcceptAll, ok: true},
		{name: "plain accept", text: "Accept", want: Accept, ok: true},
		{name: "run command beats run", text: "Run Command", want: RunCommand, ok: true},
		{name: "plain run", text: "Run", want: Run, ok: true},
		{name: "apply", text: "Apply changes", want: Apply, ok: true},
		{name: "execute", text: "Execute", want: Execute, ok: true},
		{name: "resume via continue keyword", text: "Continue", want: Resume, ok: true},
		{name: "aria label only", text: "", ariaLabel: "accept suggestion", want: Accept, ok: true},
		{name: "title only", text: "", title: "Run command in terminal", want: RunCommand, ok: true},
		{name: "case insensitive", text: "ACCEPT ALL", want: AcceptAll, ok: true},
		{name: "no match", text: "Cancel", ok: false},
		{name: "empty input", text: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.text, tt.ariaLabel, tt.title)
			if ok != tt.ok {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestAllOrderedByPriority(t *testing.T) {
	types := All()
	if len(types) != len(Patterns) {
		t.Fatalf("expected %d types, got %d", len(Patterns), len(types))
	}
	prev := 0
	for _, typ := range types {
		p := Lookup(typ)
		if p.Priority <= prev {
			t.Fatalf("types not in ascending priority order at %q", typ)
		}
		prev = p.Priority
	}
}

func TestLookupUnknownFallsBackToAccept(t *testing.T) {
	p := Lookup(Type("bogus"))
	if p.Type != Accept {
		t.Fatalf("expected accept fallback, got %q", p.Type)
	}
}

func TestKnown(t *testing.T) {
	if !Known(AcceptAll) {
		t.Error("expected acceptAll to be known")
	}
	if Known(Type("nope")) {
		t.Error("expected unknown type to be rejected")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Type
		ok   bool
	}{
		{name: "canonical", in: "acceptAll", want: AcceptAll, ok: true},
		{name: "snake case", in: "accept_all", want: AcceptAll, ok: true},
		{name: "kebab case", in: "run-command", want: RunCommand, ok: true},
		{name: "mixed case", in: "Accept-All", want: AcceptAll, ok: true},
		{name: "plain", in: "resume", want: Resume, ok: true},
		{name: "padded", in: "  execute ", want: Execute, ok: true},
		{name: "unknown", in: "teleport", ok: false},
		{name: "empty", in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.in)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeywordsContainsAllPatterns(t *testing.T) {
	kws := Keywords()
	seen := make(map[string]bool, len(kws))
	for _, kw := range kws {
		seen[kw] = true
	}
	for _, p := range Patterns {
		for _, kw := range p.Keywords {
			if !seen[kw] {
				t.Fatalf("keyword %q missing from Keywords()", kw)
			}
		}
	}
}
