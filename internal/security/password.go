package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	// MinPasswordLength and MaxPasswordLength bound what Hash will accept.
	MinPasswordLength = 8
	MaxPasswordLength = 128

	argon2Prefix = "$argon2id$"
	saltLen      = 16
	keyLen       = 32
)

var ErrInvalidPassword = errors.New("password must be between 8 and 128 characters")

// Hasher produces and verifies argon2id password hashes in PHC string
// format, so every stored hash carries its own algorithm tag and cost
// parameters. Hashes from the legacy deployment are unsalted sha256 hex
// digests; Verify recognizes and checks those in constant time.
type Hasher struct {
	time    uint32
	memory  uint32
	threads uint8
}

func NewHasher(time, memory uint32, threads uint8) *Hasher {
	return &Hasher{time: time, memory: memory, threads: threads}
}

func (h *Hasher) Hash(password string) ([]byte, error) {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, ErrInvalidPassword
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, keyLen)

	encoded := fmt.Sprintf("$argon2id$v=19$t=%d,m=%d,p=%d$%s$%s",
		h.time, h.memory, h.threads,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key))

	return []byte(encoded), nil
}

// Verify reports whether password matches encodedHash. It never returns an
// error: malformed hashes, unknown formats, and internal failures all
// resolve to false. Comparison of the derived key is constant time.
func (h *Hasher) Verify(password string, encodedHash []byte) bool {
	hash := string(encodedHash)
	if strings.HasPrefix(hash, argon2Prefix) {
		return verifyArgon2(password, hash)
	}
	return verifyLegacyDigest(password, hash)
}

func verifyArgon2(password, encodedHash string) bool {
	// $argon2id$v=19$t=...,m=...,p=...$<salt>$<key>
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var (
		t       uint32
		memory  uint32
		threads uint8
	)
	if _, err := fmt.Sscanf(parts[3], "t=%d,m=%d,p=%d", &t, &memory, &threads); err != nil {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	key, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, t, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1
}

// verifyLegacyDigest checks an unsalted sha256 hex digest from the old
// deployment. The stored digest is decoded and compared byte-wise in
// constant time rather than as strings.
func verifyLegacyDigest(password, storedHex string) bool {
	stored, err := hex.DecodeString(storedHex)
	if err != nil || len(stored) != sha256.Size {
		return false
	}
	computed := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(stored, computed[:]) == 1
}

// Calibrate measures one hash with the configured cost so regressions in
// hash latency are visible at startup. Target is roughly 100ms.
func (h *Hasher) Calibrate() time.Duration {
	start := time.Now()
	argon2.IDKey([]byte("calibration-probe"), make([]byte, saltLen), h.time, h.memory, h.threads, keyLen)
	return time.Since(start)
}
