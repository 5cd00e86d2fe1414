package verify

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writePublicKey(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "scoring.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return path
}

func TestVerifyRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := writePublicKey(t, &priv.PublicKey)

	v, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}

	payload := []byte(`{"score":-42.0,"details":["policy: blacklisted sender"]}`)
	sigB64, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	payloadB64 := base64.StdEncoding.EncodeToString(payload)

	got, err := v.Verify(payloadB64, sigB64)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Verify returned %q, want %q", got, payload)
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	path := writePublicKey(t, &priv.PublicKey)
	v, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}

	if _, err := v.Verify(base64.StdEncoding.EncodeToString([]byte("payload")), ""); err != ErrNoSignature {
		t.Errorf("Verify with no signature = %v, want ErrNoSignature", err)
	}
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	path := writePublicKey(t, &priv.PublicKey)
	v, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}

	payload := []byte(`{"score":-1.0}`)
	sigB64, err := Sign(other, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := v.Verify(base64.StdEncoding.EncodeToString(payload), sigB64); err != ErrBadSignature {
		t.Errorf("Verify with forged signature = %v, want ErrBadSignature", err)
	}
}

func TestLoadPublicKeyMissingFile(t *testing.T) {
	if _, err := LoadPublicKey(filepath.Join(t.TempDir(), "nope.pub")); err == nil {
		t.Fatal("LoadPublicKey should fail for a missing file")
	}
}
