package archive

import (
	"bytes"
	"testing"
)

func TestSealOpen(t *testing.T) {
	plain := []byte(`{"id":1,"dependent_id":2,"delta_points":5}` + "\n")

	sealed, err := Seal(plain, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("dependent_id")) {
		t.Error("sealed output contains plaintext")
	}

	got, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("open = %q, want %q", got, plain)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("ledger"), "right")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(sealed, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, _ := Seal([]byte("same"), "p")
	b, _ := Seal([]byte("same"), "p")
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("expected different salts")
	}
}

func TestOpenTooShort(t *testing.T) {
	if _, err := Open([]byte("short"), "p"); err != errSealedTooShort {
		t.Errorf("err = %v, want errSealedTooShort", err)
	}
}
