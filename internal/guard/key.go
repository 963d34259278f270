package guard

import (
	"errors"
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"
)

// ParsePrivateKey decodes a base58 ed25519 private key.
func ParsePrivateKey(b58 string) (solana.PrivateKey, error) {
	b58 = strings.TrimSpace(b58)
	if b58 == "" {
		return nil, errors.New("guard private key not set")
	}
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("decode guard key: %w", err)
	}
	return key, nil
}
