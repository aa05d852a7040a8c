package keys

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultBits is the RSA modulus size used for generated test identities.
const DefaultBits = 2048

const privatePEMType = "RSA PRIVATE KEY"

type KeyPair struct {
	private *rsa.PrivateKey
	signer  ssh.Signer
}

func Generate(bits int) (*KeyPair, error) {
	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	return newKeyPair(private)
}

func GenerateBatch(n, bits int) ([]*KeyPair, error) {
	batch := make([]*KeyPair, 0, n)
	for i := 0; i < n; i++ {
		pair, err := Generate(bits)
		if err != nil {
			return nil, err
		}
		batch = append(batch, pair)
	}

	return batch, nil
}

func newKeyPair(private *rsa.PrivateKey) (*KeyPair, error) {
	signer, err := ssh.NewSignerFromKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &KeyPair{private: private, signer: signer}, nil
}

func (k *KeyPair) Signer() ssh.Signer {
	return k.signer
}

func (k *KeyPair) PublicKey() ssh.PublicKey {
	return k.signer.PublicKey()
}

// AuthorizedLine returns the one-line authorized_keys encoding of the
// public half, without a trailing newline.
func (k *KeyPair) AuthorizedLine() string {
	return MarshalAuthorized(k.PublicKey())
}

func (k *KeyPair) EncodePrivatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  privatePEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(k.private),
	})
}

func DecodePrivatePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("no %q PEM block found", privatePEMType)
	}

	private, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return newKeyPair(private)
}

func MarshalAuthorized(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}

// Equal reports whether two public keys have the same wire encoding.
func Equal(a, b ssh.PublicKey) bool {
	return a.Type() == b.Type() && bytes.Equal(a.Marshal(), b.Marshal())
}
