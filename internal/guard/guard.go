// Package guard implements the order guards that stamp orders before they reach a venue.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
)

// Noop passes orders through untouched.
type Noop struct{}

// Protect returns the order unchanged.
func (Noop) Protect(_ context.Context, order execution.Order) (execution.Order, error) {
	return order, nil
}

// Build returns the guard for mode. The signer uses keyBase58 when set and an ephemeral key
// otherwise.
func Build(mode, keyBase58 string, maxJitter time.Duration, log zerolog.Logger) (execution.Guard, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none", "noop":
		return Noop{}, nil
	case "signer", "sign":
		var (
			key solana.PrivateKey
			err error
		)
		if keyBase58 == "" {
			key, err = solana.NewRandomPrivateKey()
			if err != nil {
				return nil, fmt.Errorf("generate guard key: %w", err)
			}
			log.Warn().Str("signer", key.PublicKey().String()).Msg("no guard key configured, using ephemeral key")
		} else {
			key, err = ParsePrivateKey(keyBase58)
			if err != nil {
				return nil, err
			}
		}
		s := NewSigner(key, maxJitter, log)
		log.Info().Str("signer", s.PublicKey().String()).Msg("order guard signing enabled")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown guard mode %q", mode)
	}
}
