package trace

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Signature is a detached ed25519 signature over a record's canonical JSON
// with the signature field cleared.
type Signature struct {
	Alg      string `json:"alg"`
	PubKeyID string `json:"pubkey_id"`
	Sig      string `json:"sig"`
}

// Signer signs run records so an auditor can tell whether a record was
// edited after it was written.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
}

// NewSigner loads the key named keyID from keyDir, generating and storing a
// fresh one on first use.
func NewSigner(keyDir, keyID string) (*Signer, error) {
	if keyDir == "" || keyID == "" {
		return nil, fmt.Errorf("key directory and key ID are required")
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(keyDir, keyID+".key")

	var privateKey ed25519.PrivateKey
	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("key %s has invalid size", keyID)
		}
		privateKey = ed25519.PrivateKey(data)
	} else {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = priv
		if err := os.WriteFile(keyPath, []byte(privateKey), 0600); err != nil {
			return nil, err
		}
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		keyID:      keyID,
	}, nil
}

// KeyID returns the signer's key identifier.
func (s *Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.publicKey }

// Sign produces a detached signature for the record.
func (s *Signer) Sign(rec RunRecord) (*Signature, error) {
	data, err := signablePayload(rec)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(s.privateKey, data)
	return &Signature{
		Alg:      "ed25519",
		PubKeyID: s.keyID,
		Sig:      base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks the record's signature against the signer's public key.
func (s *Signer) Verify(rec RunRecord) error {
	if rec.Signature == nil {
		return fmt.Errorf("record is unsigned")
	}
	if rec.Signature.Alg != "ed25519" {
		return fmt.Errorf("unsupported signature algorithm %q", rec.Signature.Alg)
	}
	if rec.Signature.PubKeyID != s.keyID {
		return fmt.Errorf("record signed with key %q, verifier holds %q", rec.Signature.PubKeyID, s.keyID)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(rec.Signature.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	data, err := signablePayload(rec)
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.publicKey, data, sigBytes) {
		return fmt.Errorf("invalid record signature")
	}
	return nil
}

func signablePayload(rec RunRecord) ([]byte, error) {
	rec.Signature = nil
	return json.Marshal(&rec)
}
