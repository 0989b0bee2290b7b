// Package crypto seals the operator's broker API token at rest with a
// password, using PBKDF2-HMAC-SHA256 and AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen        = 16
	aesKeyLen      = 32
	currentVersion = 1
)

// pbkdf2Iterations is the OWASP minimum for HMAC-SHA256. Tests lower it.
var pbkdf2Iterations = 480_000

// sealedToken is the on-disk format. Binary fields are base64.
type sealedToken struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// TokenSource says where the operator token comes from. Raw wins over the
// encrypted file.
type TokenSource struct {
	Raw           string
	EncryptedPath string
	Password      string
}

func gcmFor(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// SealToken encrypts token with password and returns the JSON file body.
func SealToken(token, password string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("crypto: token must not be empty")
	}
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := gcmFor(password, salt, pbkdf2Iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedToken{
		Version:    currentVersion,
		Iterations: pbkdf2Iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(token), nil)),
	}, "", "  ")
}

// OpenToken decrypts a file body produced by SealToken.
func OpenToken(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var st sealedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed token: %w", err)
	}
	if st.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", st.Version)
	}
	if st.Iterations <= 0 {
		return "", errors.New("crypto: missing iteration count")
	}

	salt, err := base64.StdEncoding.DecodeString(st.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(st.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(st.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := gcmFor(password, salt, st.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return string(plain), nil
}

// LoadToken resolves the operator token. It returns "" and no error when no
// source is configured.
func LoadToken(src TokenSource) (string, error) {
	if tok := strings.TrimSpace(src.Raw); tok != "" {
		return tok, nil
	}
	if src.EncryptedPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(src.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: reading sealed token: %w", err)
	}
	return OpenToken(data, src.Password)
}
