package pipeline

import (
	"strings"
	"testing"
	"time"
)

func TestMaskDIDLaw(t *testing.T) {
	for _, did := range []string{"1234567", "15551234567", "442071234567890"} {
		got := MaskDID(did)
		if !strings.HasPrefix(got, did[:4]) || !strings.HasSuffix(got, did[len(did)-3:]) {
			t.Errorf("MaskDID(%q) = %q: prefix/suffix not preserved", did, got)
		}
		if got[4:len(got)-3] != "****" {
			t.Errorf("MaskDID(%q) = %q: expected exactly four mask characters", did, got)
		}
	}
}

func TestMaskDIDLeavesOtherShapesUnmasked(t *testing.T) {
	for _, did := range []string{"", "123456", "+15551234567", "1555-123-4567", "abcdefghij", "anonymous"} {
		if got := MaskDID(did); got != did {
			t.Errorf("MaskDID(%q) = %q, want unchanged", did, got)
		}
	}
}

func TestFlag(t *testing.T) {
	if got := Flag("US"); got != "🇺🇸" {
		t.Fatalf("Flag(US) = %q", got)
	}
	if got := Flag("ng"); got != "🇳🇬" {
		t.Fatalf("Flag(ng) = %q", got)
	}
}

func TestFlagFallback(t *testing.T) {
	for _, code := range []string{"ZZ", "QQ", "XX", "AA", "", "U", "USA", "1A", "é"} {
		if got := Flag(code); got != UnknownFlag {
			t.Errorf("Flag(%q) = %q, want placeholder", code, got)
		}
	}
}

func TestComposeScenario(t *testing.T) {
	at := time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)
	got := Compose(Caption{
		CountryName:     "US",
		CountryCode:     "US",
		DID:             "15551234567",
		DurationSeconds: 42,
		At:              at,
	})

	for _, want := range []string{
		"Country: US 🇺🇸",
		"DID: +1555****567",
		"Duration: 42s",
		"Time: 03:04:05 PM",
		"<b>NEW CALL US 🇺🇸</b>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("caption missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Code") {
		t.Errorf("caption should have no code line:\n%s", got)
	}
}

func TestComposeIsDeterministicAndEscapes(t *testing.T) {
	c := Caption{
		CountryName:     "Trinidad & Tobago",
		CountryCode:     "TT",
		DID:             "+18685551234",
		DurationSeconds: 7,
		At:              time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
		Code:            "4829",
	}
	a, b := Compose(c), Compose(c)
	if a != b {
		t.Fatal("Compose is not deterministic")
	}
	if !strings.Contains(a, "Trinidad &amp; Tobago") {
		t.Errorf("country name not escaped:\n%s", a)
	}
	if !strings.Contains(a, "DID: +1868****234") {
		t.Errorf("leading + should be stripped before masking:\n%s", a)
	}
	if !strings.Contains(a, "Code: <code>4829</code>") {
		t.Errorf("code line missing:\n%s", a)
	}
}
