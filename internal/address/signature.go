package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var ErrBadSignature = errors.New("bad signature")

// FromPublicKey returns the address owning pub: the last 20 bytes of the
// keccak256 of the uncompressed key without its 0x04 prefix.
func FromPublicKey(pub *secp256k1.PublicKey) Address {
	return FromHash(Keccak256(pub.SerializeUncompressed()[1:]))
}

// FromPrivateKeyHex parses a hex secp256k1 key and returns it with its address.
func FromPrivateKeyHex(keyHex string) (*secp256k1.PrivateKey, Address, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, "", fmt.Errorf("decode private key: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, "", fmt.Errorf("expected 32-byte private key, got %d", len(keyBytes))
	}
	priv := secp256k1.PrivKeyFromBytes(keyBytes)
	return priv, FromPublicKey(priv.PubKey()), nil
}

// Sign produces a 65-byte compact signature over digest.
func Sign(priv *secp256k1.PrivateKey, digest []byte) []byte {
	return ecdsa.SignCompact(priv, digest, false)
}

// Recover returns the address that produced the compact signature sig over digest.
func Recover(digest, sig []byte) (Address, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: expected 65 bytes, got %d", ErrBadSignature, len(sig))
	}
	pub, _, err := ecdsa.RecoverCompact(sig, digest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return FromPublicKey(pub), nil
}

// RequestDigest is the message a caller signs to authenticate an API request.
func RequestDigest(method, path string, body []byte) []byte {
	return Keccak256([]byte(strings.ToUpper(method)), []byte(" "), []byte(path), []byte("\n"), body)
}
