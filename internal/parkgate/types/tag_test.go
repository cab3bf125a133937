package types_test

import (
	"testing"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
)

func TestNormalizeTagID(t *testing.T) {
	cases := map[string]types.TagID{
		"89 D3 9D 94":     "89 D3 9D 94",
		"  89 d3 9d 94 ":  "89 D3 9D 94",
		"89d39d94":        "89 D3 9D 94",
		"89  D3\t9D 94":   "89 D3 9D 94",
		"":                "",
		"   ":             "",
		"abc":             "ABC",
		"card  one":       "CARD ONE",
		"0x12":            "0X12",
	}
	for in, want := range cases {
		if got := types.NormalizeTagID(in); got != want {
			t.Errorf("NormalizeTagID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTagID_SubstringIDsStayDistinct(t *testing.T) {
	a := types.NormalizeTagID("D3 9D")
	b := types.NormalizeTagID("89 D3 9D 94")
	if a == b {
		t.Fatalf("expected distinct ids, both normalized to %q", a)
	}
}

func TestParseDecision(t *testing.T) {
	if d, err := types.ParseDecision(" Permitted "); err != nil || d != types.Permitted {
		t.Errorf("ParseDecision(Permitted) = %q, %v", d, err)
	}
	if d, err := types.ParseDecision("denied"); err != nil || d != types.Denied {
		t.Errorf("ParseDecision(denied) = %q, %v", d, err)
	}
	if _, err := types.ParseDecision("maybe"); err != types.ErrInvalidDecision {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestIsHexTagID(t *testing.T) {
	cases := map[string]bool{
		"89 D3 9D 94": true,
		"89d39d94":    true,
		"c4 5e":       true,
		"":            false,
		"Mary":        false,
		"ABC":         false,
		"0x12":        false,
	}
	for in, want := range cases {
		if got := types.IsHexTagID(in); got != want {
			t.Errorf("IsHexTagID(%q) = %v, want %v", in, got, want)
		}
	}
}
