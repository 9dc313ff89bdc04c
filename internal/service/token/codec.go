package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/security"
)

// hashLength is the hex length of a token hash: 32 hex chars carry 128
// bits, enough to make collisions negligible.
const hashLength = 32

// Codec mints and decodes the opaque credential embedded in a QR code.
// It holds no prescription state; expiry and single-use checks belong to
// the lifecycle service.
type Codec struct {
	encryptor security.Encryptor
}

// MintResult is the output of a mint operation.
type MintResult struct {
	TokenHash        string
	EncryptedPayload []byte
	ExpiresAt        time.Time
}

func NewCodec(secret, salt string) (*Codec, error) {
	enc, err := security.NewAESEncryptor(security.DeriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	return &Codec{encryptor: enc}, nil
}

// Mint derives a public lookup hash and seals the snapshot. The hash is
// safe to display; the payload is recoverable only with the secret key.
func (c *Codec) Mint(snapshot *model.PrescriptionSnapshot, ttl time.Duration) (*MintResult, error) {
	now := time.Now()
	snapshot.IssuedAt = now
	snapshot.ExpiresAt = now.Add(ttl)

	hash, err := deriveHash(snapshot.PrescriptionID.String(), now)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	ciphertext, err := c.encryptor.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	return &MintResult{
		TokenHash:        hash,
		EncryptedPayload: ciphertext,
		ExpiresAt:        snapshot.ExpiresAt,
	}, nil
}

// Decode decrypts and deserializes a stored payload. Failure means the
// ciphertext was tampered with, truncated, or sealed under another key.
func (c *Codec) Decode(encryptedPayload []byte) (*model.PrescriptionSnapshot, error) {
	plaintext, err := c.encryptor.Decrypt(encryptedPayload)
	if err != nil {
		return nil, apperrors.Corrupt("token payload cannot be decrypted", err)
	}

	var snapshot model.PrescriptionSnapshot
	if err := json.Unmarshal(plaintext, &snapshot); err != nil {
		return nil, apperrors.Corrupt("token payload is malformed", err)
	}
	return &snapshot, nil
}

func deriveHash(prescriptionID string, now time.Time) (string, error) {
	entropy := make([]byte, 16)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("failed to gather entropy: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(prescriptionID))
	h.Write([]byte(fmt.Sprintf("%d", now.UnixNano())))
	h.Write(entropy)

	return hex.EncodeToString(h.Sum(nil))[:hashLength], nil
}
