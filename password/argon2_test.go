package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerify(t *testing.T) {
	a, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	h, err := a.Hash("correct-pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", h)
	}

	ok, err := a.Verify("correct-pw", h)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = a.Verify("wrong-pw!!", h)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, _ := NewArgon2(testConfig())
	h1, _ := a.Hash("correct-pw")
	h2, _ := a.Hash("correct-pw")
	if h1 == h2 {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestVerifyAcceptsOtherParameters(t *testing.T) {
	strong := testConfig()
	strong.Time = 2
	a1, _ := NewArgon2(strong)
	a2, _ := NewArgon2(testConfig())

	h, _ := a1.Hash("correct-pw")
	ok, err := a2.Verify("correct-pw", h)
	if err != nil || !ok {
		t.Fatalf("expected hash with other params to verify, got %v, %v", ok, err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	a, _ := NewArgon2(testConfig())
	for _, bad := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5",
	} {
		if _, err := a.Verify("correct-pw", bad); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q): expected ErrMalformedHash, got %v", bad, err)
		}
	}
}

func TestHashLengthBounds(t *testing.T) {
	a, _ := NewArgon2(testConfig())
	if _, err := a.Hash("short"); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("expected ErrPasswordLength, got %v", err)
	}
	if _, err := a.Hash(strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("expected ErrPasswordLength, got %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected error for low memory")
	}
}
