package keys

import (
	"testing"

	"golang.org/x/crypto/ssh"
)

// Key generation dominates test time, so tests use a small modulus.
const testBits = 1024

func TestGenerate(t *testing.T) {
	t.Run("produces_distinct_pairs", func(t *testing.T) {
		a, err := Generate(testBits)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		b, err := Generate(testBits)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}

		if Equal(a.PublicKey(), b.PublicKey()) {
			t.Errorf("generated identical keys: %s", a.AuthorizedLine())
		}
	})

	t.Run("batch_has_requested_size", func(t *testing.T) {
		batch, err := GenerateBatch(5, testBits)
		if err != nil {
			t.Fatalf("failed to generate batch: %v", err)
		}
		if len(batch) != 5 {
			t.Fatalf("len(batch) = %d, want %d", len(batch), 5)
		}

		for i := 0; i < len(batch); i++ {
			for j := i + 1; j < len(batch); j++ {
				if Equal(batch[i].PublicKey(), batch[j].PublicKey()) {
					t.Errorf("batch[%d] and batch[%d] are the same key: %s",
						i, j, batch[i].AuthorizedLine())
				}
			}
		}
	})
}

func TestAuthorizedLine(t *testing.T) {
	pair, err := Generate(testBits)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	t.Run("round_trip", func(t *testing.T) {
		line := pair.AuthorizedLine()
		parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			t.Fatalf("failed to parse encoded line %q: %v", line, err)
		}
		if !Equal(parsed, pair.PublicKey()) {
			t.Errorf("decoded key = %s, want %s", MarshalAuthorized(parsed), line)
		}
	})

	t.Run("no_trailing_newline", func(t *testing.T) {
		line := pair.AuthorizedLine()
		if line[len(line)-1] == '\n' {
			t.Errorf("line %q ends with a newline", line)
		}
	})
}

func TestPrivatePEM(t *testing.T) {
	pair, err := Generate(testBits)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	t.Run("round_trip", func(t *testing.T) {
		decoded, err := DecodePrivatePEM(pair.EncodePrivatePEM())
		if err != nil {
			t.Fatalf("failed to decode encoded key: %v", err)
		}
		if !Equal(decoded.PublicKey(), pair.PublicKey()) {
			t.Errorf("decoded key = %s, want %s",
				decoded.AuthorizedLine(), pair.AuthorizedLine())
		}
		if decoded.AuthorizedLine() != pair.AuthorizedLine() {
			t.Errorf("encoded line = %q, want %q",
				decoded.AuthorizedLine(), pair.AuthorizedLine())
		}
	})

	t.Run("rejects_garbage", func(t *testing.T) {
		if _, err := DecodePrivatePEM([]byte("not a key")); err == nil {
			t.Error("err = nil, want error")
		}
	})

	t.Run("rejects_wrong_block_type", func(t *testing.T) {
		data := []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
		if _, err := DecodePrivatePEM(data); err == nil {
			t.Error("err = nil, want error")
		}
	})
}
