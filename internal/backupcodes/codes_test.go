package backupcodes

import (
	"bytes"
	"regexp"
	"testing"
)

var formatted = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}$`)

func TestGenerateProducesDistinctCodesAndHashes(t *testing.T) {
	for round := 0; round < 50; round++ {
		set, err := Generate("u1", 10, 8, nil)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(set.Codes) != 10 || len(set.Hashes) != 10 {
			t.Fatalf("expected 10 codes and hashes, got %d/%d", len(set.Codes), len(set.Hashes))
		}

		codes := make(map[string]struct{}, 10)
		hashes := make(map[[32]byte]struct{}, 10)
		for i, code := range set.Codes {
			if !formatted.MatchString(code) {
				t.Fatalf("code %q does not match XXXX-XXXX", code)
			}
			if _, dup := codes[code]; dup {
				t.Fatalf("duplicate code %q", code)
			}
			codes[code] = struct{}{}

			h := Hash(set.Salt, "u1", Canonicalize(code))
			if h != set.Hashes[i] {
				t.Fatalf("hash of code %d does not match stored hash", i)
			}
			if _, dup := hashes[h]; dup {
				t.Fatal("duplicate hash")
			}
			hashes[h] = struct{}{}
		}
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	calls := 0
	// First code is AAAAAAAA, second attempt repeats it, third becomes BBBBBBBB.
	idx := func(int) (int, error) {
		defer func() { calls++ }()
		if calls < 16 {
			return 0, nil
		}
		return 1, nil
	}

	set, err := Generate("u1", 2, 8, idx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if set.Codes[0] != "AAAA-AAAA" || set.Codes[1] != "BBBB-BBBB" {
		t.Fatalf("unexpected codes %v", set.Codes)
	}
}

func TestHashIsSaltedAndUserBound(t *testing.T) {
	salt1 := bytes.Repeat([]byte{1}, SaltSize)
	salt2 := bytes.Repeat([]byte{2}, SaltSize)
	c := Canonicalize("abcd-efgh")

	if Hash(salt1, "u1", c) == Hash(salt2, "u1", c) {
		t.Fatal("expected salt to change hash")
	}
	if Hash(salt1, "u1", c) == Hash(salt1, "u2", c) {
		t.Fatal("expected user id to change hash")
	}
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh":   "ABCDEFGH",
		" ABCD EFGH ": "ABCDEFGH",
		"ABCDEFGH":    "ABCDEFGH",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateRejectsBadParameters(t *testing.T) {
	if _, err := Generate("u1", 0, 8, nil); err == nil {
		t.Fatal("expected error for zero count")
	}
	if _, err := Generate("u1", 10, 6, nil); err == nil {
		t.Fatal("expected error for short codes")
	}
}
