package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/singatoshi/bnb-trading-agent/internal/execution"
)

// Signer validates an order, fingerprints it, signs the fingerprint with an ed25519 key and
// holds it back for a random jitter before release.
type Signer struct {
	key       solana.PrivateKey
	maxJitter time.Duration
	log       zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSigner builds a signer. A zero maxJitter releases orders immediately.
func NewSigner(key solana.PrivateKey, maxJitter time.Duration, log zerolog.Logger) *Signer {
	return &Signer{
		key:       key,
		maxJitter: maxJitter,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// PublicKey is the key orders are verified against.
func (s *Signer) PublicKey() solana.PublicKey { return s.key.PublicKey() }

// Protect stamps the order with its fingerprint and signature.
func (s *Signer) Protect(ctx context.Context, order execution.Order) (execution.Order, error) {
	if err := validate(order); err != nil {
		return execution.Order{}, err
	}

	at := s.now().UTC()
	digest, err := fingerprint(order, at)
	if err != nil {
		return execution.Order{}, err
	}
	sig, err := s.key.Sign(digest)
	if err != nil {
		return execution.Order{}, fmt.Errorf("sign order: %w", err)
	}

	if s.maxJitter > 0 {
		s.mu.Lock()
		delay := time.Duration(s.rng.Int63n(int64(s.maxJitter)))
		s.mu.Unlock()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return execution.Order{}, ctx.Err()
		case <-timer.C:
		}
	}

	order.Protection = &execution.Protection{
		Fingerprint: hex.EncodeToString(digest),
		Signature:   sig.String(),
		Signer:      s.key.PublicKey().String(),
		At:          at,
	}
	s.log.Debug().Str("sym", order.Symbol).Str("side", string(order.Side)).Str("fingerprint", order.Protection.Fingerprint).Msg("order protected")
	return order, nil
}

// Verify checks that a stamped order still matches its fingerprint and was signed by signer.
func Verify(order execution.Order, signer solana.PublicKey) error {
	p := order.Protection
	if p == nil {
		return errors.New("order is not protected")
	}
	digest, err := fingerprint(order, p.At)
	if err != nil {
		return err
	}
	if hex.EncodeToString(digest) != p.Fingerprint {
		return errors.New("order fingerprint mismatch")
	}
	sig, err := solana.SignatureFromBase58(p.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !sig.Verify(signer, digest) {
		return errors.New("order signature invalid")
	}
	return nil
}

func validate(order execution.Order) error {
	if order.Symbol == "" {
		return errors.New("invalid order: missing symbol")
	}
	if order.Side != execution.Buy && order.Side != execution.Sell {
		return fmt.Errorf("invalid order: side %q", order.Side)
	}
	if !order.Qty.IsPositive() {
		return errors.New("invalid order: quantity must be positive")
	}
	return nil
}

type fingerprintPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	Price         string `json:"price"`
	ClientOrderID string `json:"client_order_id"`
	At            int64  `json:"at"`
}

func fingerprint(order execution.Order, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(fingerprintPayload{
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Qty:           order.Qty.String(),
		Price:         order.Price.String(),
		ClientOrderID: order.ClientOrderID,
		At:            at.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	sum := sha256.Sum256(payload)
	return sum[:], nil
}
