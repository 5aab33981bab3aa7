package humanizer

import (
	"testing"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

func TestTypos_DisabledIsIdentity(t *testing.T) {
	ty := NewTypos(config.TypoConfig{Enabled: false, ErrorRate: 1, WordReplaceRate: 1})
	in := "什么的在吗"
	if got := ty.Apply(in); got != in {
		t.Errorf("disabled typos changed text: %q", got)
	}
}

func TestTypos_ZeroRatesAreIdentity(t *testing.T) {
	ty := NewTypos(config.TypoConfig{Enabled: true})
	ty.rand = func() float64 { return 0.5 } // above any zero rate
	in := "什么的在吗 thanks"
	if got := ty.Apply(in); got != in {
		t.Errorf("zero rates changed text: %q", got)
	}
}

func TestTypos_CasualRewriteFirstMatchOnly(t *testing.T) {
	ty := NewTypos(config.TypoConfig{Enabled: true, WordReplaceRate: 1, ErrorRate: 0})
	ty.rand = func() float64 { return 0 }

	got := ty.Apply("什么好的")
	// 什么 is earlier in the rewrite list; 好的 must survive.
	if got != "啥好的" {
		t.Errorf("got %q, want %q", got, "啥好的")
	}
}

func TestTypos_HomophoneSubstitution(t *testing.T) {
	ty := NewTypos(config.TypoConfig{Enabled: true, WordReplaceRate: 0, ErrorRate: 1})
	ty.rand = func() float64 { return 0 }

	got := ty.Apply("x的y")
	if got == "x的y" {
		t.Error("error rate 1 should replace every homophone char")
	}
	// Non-homophone runes never change.
	if got[0] != 'x' || got[len(got)-1] != 'y' {
		t.Errorf("non-CJK runes changed: %q", got)
	}
	mid := []rune(got)[1]
	if mid != '得' && mid != '地' {
		t.Errorf("的 replaced with %q, not a homophone", mid)
	}
}

func TestTypos_EmptyText(t *testing.T) {
	ty := NewTypos(config.TypoConfig{Enabled: true, ErrorRate: 1, WordReplaceRate: 1})
	if got := ty.Apply(""); got != "" {
		t.Errorf("empty text became %q", got)
	}
}
