package principal

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
)

func TestWellKnownPrincipals(t *testing.T) {
	if got := Management().String(); got != "aaaaa-aa" {
		t.Fatalf("Management() = %q, want %q", got, "aaaaa-aa")
	}
	if got := Anonymous().String(); got != "2vxsx-fae" {
		t.Fatalf("Anonymous() = %q, want %q", got, "2vxsx-fae")
	}
	if !Anonymous().IsAnonymous() {
		t.Fatal("expected anonymous principal to report IsAnonymous")
	}
}

func TestParseWellKnown(t *testing.T) {
	p, err := Parse("aaaaa-aa")
	if err != nil {
		t.Fatalf("Parse(aaaaa-aa) error = %v", err)
	}
	if len(p.Bytes()) != 0 {
		t.Fatalf("management principal bytes = %x, want empty", p.Bytes())
	}

	anon, err := Parse("2vxsx-fae")
	if err != nil {
		t.Fatalf("Parse(2vxsx-fae) error = %v", err)
	}
	if !anon.Equal(Anonymous()) {
		t.Fatalf("parsed anonymous = %x", anon.Bytes())
	}
}

func TestParseAcceptsUppercaseAndSurroundingSpace(t *testing.T) {
	p, err := Parse("  2VXSX-FAE ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !p.IsAnonymous() {
		t.Fatalf("expected anonymous, got %s", p)
	}
}

func TestRoundTripSelfAuthenticating(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := SelfAuthenticating(pub)
	if err != nil {
		t.Fatalf("SelfAuthenticating() error = %v", err)
	}
	if n := len(p.Bytes()); n != 29 {
		t.Fatalf("self-authenticating length = %d, want 29", n)
	}
	if b := p.Bytes(); b[len(b)-1] != 0x02 {
		t.Fatalf("self-authenticating suffix = %#x, want 0x02", b[len(b)-1])
	}

	text := p.String()
	parsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", text, err)
	}
	if !parsed.Equal(p) {
		t.Fatalf("round trip mismatch: %s != %s", parsed, p)
	}
	if got := strings.Count(text, "-"); got == 0 {
		t.Fatalf("expected grouped text, got %q", text)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	valid := Anonymous().String()
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "spaces", input: "   "},
		{name: "not base32", input: "hello-world!"},
		{name: "digit one is not base32", input: "11111-11"},
		{name: "bad checksum", input: "aaaaa-ab"},
		{name: "missing dash", input: strings.ReplaceAll(valid, "-", "")},
		{name: "misplaced dash", input: "2vx-sxfae"},
		{name: "trailing dash", input: valid + "-"},
		{name: "too short", input: "aaa"},
		{name: "too long", input: strings.Repeat("aaaaa-", 12) + "aa"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tc.input)
			}
			if !errors.Is(err, apperrors.ErrParse) {
				t.Fatalf("Parse(%q) error = %v, want parse error", tc.input, err)
			}
		})
	}
}

func TestFromBytesLimits(t *testing.T) {
	if _, err := FromBytes(make([]byte, MaxLength)); err != nil {
		t.Fatalf("FromBytes(max) error = %v", err)
	}
	if _, err := FromBytes(make([]byte, MaxLength+1)); !errors.Is(err, apperrors.ErrParse) {
		t.Fatalf("FromBytes(max+1) error = %v, want parse error", err)
	}
}

func TestBytesReturnsCopy(t *testing.T) {
	p := Anonymous()
	b := p.Bytes()
	b[0] = 0xff
	if !p.IsAnonymous() {
		t.Fatal("mutating Bytes() result changed the principal")
	}
}

func TestMustParsePanicsOnBadInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParse("not a principal")
}
