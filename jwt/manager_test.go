package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueParseRoundTrip(t *testing.T) {
	m, err := NewManager(Config{TTL: 30 * 24 * time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Issuer: "twofa"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, exp, err := m.Issue("u1", 3, "devhash", "nonce-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if d := time.Until(exp); d < 29*24*time.Hour || d > 30*24*time.Hour+time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UID != "u1" || claims.Epoch != 3 || claims.Device != "devhash" || claims.ID != "nonce-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseExpired(t *testing.T) {
	start := time.Now()
	m, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Now: fixedClock(start)})
	token, _, err := m.Issue("u1", 0, "", "n")
	if err != nil {
		t.Fatal(err)
	}

	later, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Now: fixedClock(start.Add(2 * time.Hour))})
	if _, err := later.Parse(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseRejectsTamperingAndForeignKeys(t *testing.T) {
	m, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret})
	token, _, _ := m.Issue("u1", 0, "", "n")

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := m.Parse(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}

	other, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("ffffffffffffffffffffffffffffffff")})
	if _, err := other.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign key, got %v", err)
	}

	if _, err := m.Parse("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestEd25519AndAlgorithmPinning(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ed, err := NewManager(Config{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, KeyID: "k1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, _, _ := ed.Issue("u1", 1, "", "n")
	if _, err := ed.Parse(token); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	hs, _ := NewManager(Config{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret})
	if _, err := hs.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected algorithm mismatch to be rejected, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{TTL: 0, SigningMethod: MethodHS256, PrivateKey: testSecret},
		{TTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Hour, SigningMethod: "rs256", PrivateKey: testSecret},
		{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: []byte("bad")},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
