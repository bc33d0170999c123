package keygen

import (
	"strings"
	"testing"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key([]byte("graph TD; A-->B;"), "mermaid_svg")
	b := Key([]byte("graph TD; A-->B;"), "mermaid_svg")
	if a != b {
		t.Fatalf("same input produced different keys: %q vs %q", a, b)
	}
}

func TestKeyFormat(t *testing.T) {
	k := Key([]byte("content"), "plantuml_png")
	digest, suffix, ok := strings.Cut(k, "_")
	if !ok {
		t.Fatalf("key %q has no type suffix", k)
	}
	if len(digest) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(digest))
	}
	if suffix != "plantuml_png" {
		t.Fatalf("suffix = %q, want %q", suffix, "plantuml_png")
	}
}

func TestKeyDiffersByContent(t *testing.T) {
	if Key([]byte("a"), "t") == Key([]byte("b"), "t") {
		t.Fatal("different content produced identical keys")
	}
}

func TestKeyDiffersByType(t *testing.T) {
	a := Key([]byte("same"), "svg")
	b := Key([]byte("same"), "png")
	if a == b {
		t.Fatal("different entry types produced identical keys")
	}
	if strings.Split(a, "_")[0] != strings.Split(b, "_")[0] {
		t.Fatal("entry type must not affect the digest, only the suffix")
	}
}

func TestKeyWithContextOrderIndependent(t *testing.T) {
	// Maps iterate in random order; the canonical serialization must hide
	// that.
	ctx := map[string]string{"font_family": "Inter", "font_size": "14", "theme": "dark"}
	a := KeyWithContext([]byte("graph"), "svg", ctx)
	for range 10 {
		if b := KeyWithContext([]byte("graph"), "svg", ctx); b != a {
			t.Fatalf("context key not stable: %q vs %q", a, b)
		}
	}
}

func TestKeyWithContextDiffersFromPlain(t *testing.T) {
	plain := Key([]byte("graph"), "svg")
	withCtx := KeyWithContext([]byte("graph"), "svg", map[string]string{"font_size": "14"})
	if plain == withCtx {
		t.Fatal("render context must change the key")
	}
}

func TestKeyWithEmptyContextEqualsPlain(t *testing.T) {
	plain := Key([]byte("graph"), "svg")
	if got := KeyWithContext([]byte("graph"), "svg", nil); got != plain {
		t.Fatalf("nil context key %q != plain key %q", got, plain)
	}
	if got := KeyWithContext([]byte("graph"), "svg", map[string]string{}); got != plain {
		t.Fatalf("empty context key %q != plain key %q", got, plain)
	}
}

func TestKeyWithContextDiffersByValue(t *testing.T) {
	a := KeyWithContext([]byte("graph"), "svg", map[string]string{"font_size": "14"})
	b := KeyWithContext([]byte("graph"), "svg", map[string]string{"font_size": "16"})
	if a == b {
		t.Fatal("different context values produced identical keys")
	}
}
