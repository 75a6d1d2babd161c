package auth

import "testing"

func TestPasswordHashRoundtrip(t *testing.T) {
	ph, err := HashPassword("Correcto.Caballo.42", "pepper")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	parsed, err := ParsePasswordHash(ph.Hash, ph.Salt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := VerifyPassword("Correcto.Caballo.42", "pepper", parsed)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("otra-clave", "pepper", parsed)
	if err != nil || ok {
		t.Fatalf("wrong password accepted")
	}
}

func TestPasswordPepperMatters(t *testing.T) {
	ph := MustHashPassword("clave-larga-123", "p1")
	ok, err := VerifyPassword("clave-larga-123", "p2", ph)
	if err != nil || ok {
		t.Fatalf("different pepper must not verify")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a := MustHashPassword("misma-clave", "pepper")
	b := MustHashPassword("misma-clave", "pepper")
	if a.Hash == b.Hash || a.Salt == b.Salt {
		t.Fatalf("two hashes of the same password must differ")
	}
}

func TestParsePasswordHashRejectsEmpty(t *testing.T) {
	if _, err := ParsePasswordHash("", "salt"); err == nil {
		t.Fatalf("expected error for empty hash")
	}
}

func TestGenerateCSRFDeterministicPerSession(t *testing.T) {
	a, err := GenerateCSRF("key", "sess-1")
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}
	b, _ := GenerateCSRF("key", "sess-1")
	if a != b {
		t.Fatalf("same key+session must yield the same token")
	}
	c, _ := GenerateCSRF("key", "sess-2")
	if a == c {
		t.Fatalf("different sessions must yield different tokens")
	}
	if _, err := GenerateCSRF("", "sess-1"); err == nil {
		t.Fatalf("empty key must error")
	}
}
