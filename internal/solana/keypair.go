package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Keypair — signs serialized (legacy or v0) transactions built by the router.
// ---------------------------------------------------------------------------

var errMalformedTx = errors.New("solana: malformed transaction")

// Keypair is an ed25519 signing key.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// KeypairFromBase58 decodes a 64-byte base58 secret key (the format exported
// by Phantom / solana-keygen).
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("solana: decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pub: Pubkey(base58.Encode(pub))}, nil
}

// NewKeypairFromSeed derives a keypair from a 32-byte seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("solana: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pub: Pubkey(base58.Encode(pub))}, nil
}

// PublicKey returns the wallet address.
func (k *Keypair) PublicKey() Pubkey { return k.pub }

// SignTransaction signs a wire-format transaction and returns the signed
// bytes plus the resulting transaction signature.
//
// Layout: shortvec(num_signatures) | num_signatures * 64 bytes | message.
// The fee payer signature occupies slot 0.
func (k *Keypair) SignTransaction(tx []byte) ([]byte, Signature, error) {
	numSigs, n, err := decodeShortVec(tx)
	if err != nil {
		return nil, "", err
	}
	if numSigs == 0 {
		return nil, "", fmt.Errorf("%w: no signature slots", errMalformedTx)
	}
	msgStart := n + numSigs*ed25519.SignatureSize
	if msgStart >= len(tx) {
		return nil, "", fmt.Errorf("%w: truncated (%d bytes)", errMalformedTx, len(tx))
	}

	signed := make([]byte, len(tx))
	copy(signed, tx)

	sig := ed25519.Sign(k.priv, signed[msgStart:])
	copy(signed[n:n+ed25519.SignatureSize], sig)

	return signed, Signature(base58.Encode(sig)), nil
}

// decodeShortVec reads a compact-u16 length prefix.
func decodeShortVec(b []byte) (value int, size int, err error) {
	for size < 3 {
		if size >= len(b) {
			return 0, 0, fmt.Errorf("%w: short length prefix", errMalformedTx)
		}
		elem := int(b[size])
		value |= (elem & 0x7f) << (7 * size)
		size++
		if elem&0x80 == 0 {
			return value, size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: length prefix too long", errMalformedTx)
}
