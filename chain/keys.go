// chain/keys.go
package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer holds the service key. It is loaded once at startup and never mutated.
type Signer struct {
	key    solana.PrivateKey
	public solana.PublicKey
}

// LoadSigner reads a solana-keygen JSON keypair file.
func LoadSigner(path string) (*Signer, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	return NewSigner(key)
}

// NewSigner wraps an in-memory private key.
func NewSigner(key solana.PrivateKey) (*Signer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("private key must be 64 bytes, got %d", len(key))
	}
	return &Signer{key: key, public: key.PublicKey()}, nil
}

// PublicKey returns the signer's address.
func (s *Signer) PublicKey() solana.PublicKey { return s.public }

// Sign adds the service signature to tx. tx must require no other signer.
func (s *Signer) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(s.public) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}
