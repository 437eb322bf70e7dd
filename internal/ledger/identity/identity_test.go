package identity

import (
	"bytes"
	"testing"
)

func TestGenerateProducesDistinctPrincipals(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if a.Principal().Equal(b.Principal()) {
		t.Fatal("expected two generated identities to differ")
	}
	if a.Principal().IsAnonymous() {
		t.Fatal("generated identity must not be anonymous")
	}
}

func TestFromSeedPhraseIsDeterministic(t *testing.T) {
	a, err := FromSeedPhrase("correct horse battery staple")
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}
	b, err := FromSeedPhrase("  correct horse battery staple ")
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}
	if !a.Principal().Equal(b.Principal()) {
		t.Fatalf("principals differ: %s vs %s", a.Principal(), b.Principal())
	}
	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Fatal("public keys differ for the same phrase")
	}

	c, err := FromSeedPhrase("another phrase")
	if err != nil {
		t.Fatalf("FromSeedPhrase() error = %v", err)
	}
	if c.Principal().Equal(a.Principal()) {
		t.Fatal("different phrases produced the same principal")
	}
}

func TestFromSeedPhraseRejectsEmpty(t *testing.T) {
	if _, err := FromSeedPhrase("   "); err == nil {
		t.Fatal("expected error for empty phrase")
	}
}

func TestSignAndVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	payload := []byte("ledger-request\x00/ledger.wallet.v1.WalletLedger/GetBalance\x00")
	sig, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	p, err := Verify(id.PublicKey(), payload, sig)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !p.Equal(id.Principal()) {
		t.Fatalf("Verify() principal = %s, want %s", p, id.Principal())
	}

	if _, err := Verify(id.PublicKey(), append(payload, 'x'), sig); err == nil {
		t.Fatal("expected tampered payload to fail verification")
	}
	if _, err := Verify([]byte{1, 2, 3}, payload, sig); err == nil {
		t.Fatal("expected short public key to fail verification")
	}
}

func TestAnonymousIdentity(t *testing.T) {
	var id Identity = Anonymous{}
	if !id.Principal().IsAnonymous() {
		t.Fatalf("Anonymous principal = %s", id.Principal())
	}
	if id.PublicKey() != nil {
		t.Fatal("anonymous identity must have no public key")
	}
	sig, err := id.Sign([]byte("payload"))
	if err != nil || sig != nil {
		t.Fatalf("Sign() = %v, %v; want nil, nil", sig, err)
	}
}
