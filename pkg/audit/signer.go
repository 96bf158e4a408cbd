package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Signer signs envelope digests with a secp256k1 key.
type Signer struct {
	privateKey *btcec.PrivateKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Signer{privateKey: privateKey}, nil
}

// NewSigner parses a 32-byte hex private key, with or without 0x.
func NewSigner(privateKeyHex string) (*Signer, error) {
	decoded, err := parseHexString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	if len(decoded) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(decoded))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(decoded)
	return &Signer{privateKey: privateKey}, nil
}

func (signer *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(signer.privateKey.Serialize())
}

// PublicKeyHex returns the compressed public key.
func (signer *Signer) PublicKeyHex() string {
	return hex.EncodeToString(signer.privateKey.PubKey().SerializeCompressed())
}

// Sign returns the DER signature of sha256(payload) as hex.
func (signer *Signer) Sign(payload []byte) string {
	digest := sha256.Sum256(payload)
	signature := ecdsa.Sign(signer.privateKey, digest[:])
	return hex.EncodeToString(signature.Serialize())
}

// VerifySignature checks a hex DER signature over sha256(payload).
func VerifySignature(publicKeyHex string, payload []byte, signatureHex string) error {
	publicKeyBytes, err := parseHexString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	publicKey, err := btcec.ParsePubKey(publicKeyBytes)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	signatureBytes, err := parseHexString(signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	signature, err := ecdsa.ParseDERSignature(signatureBytes)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	digest := sha256.Sum256(payload)
	if !signature.Verify(digest[:], publicKey) {
		return fmt.Errorf("signature does not match payload")
	}
	return nil
}

func parseHexString(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("hex string is required")
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return nil, err
	}
	return decoded, nil
}
