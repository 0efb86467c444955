// Package keystore resolves the sending account's private key, either from a
// raw hex string or from a password-encrypted key file (PBKDF2-HMAC-SHA256
// key derivation, AES-256-GCM encryption).
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/chainkit/txsim/internal/domain"
)

const (
	// kdfIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32
	fileVersion   = 1
)

// keyFile is the on-disk format for an encrypted private key.
type keyFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`       // base64
	Nonce      string `json:"nonce"`      // base64
	Ciphertext string `json:"ciphertext"` // base64
}

// Source carries the information Load needs to resolve a private key.
type Source struct {
	// RawKey is a hex-encoded private key, with or without 0x prefix. When
	// non-empty it takes precedence over the encrypted file.
	RawKey string

	// EncryptedPath is the path to a JSON file produced by Encrypt.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

// Key is a resolved signing key together with its derived account address.
type Key struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// Load resolves the private key described by src and parses it into a
// secp256k1 key. Resolution order: raw key first, then encrypted file.
func Load(src Source) (*Key, error) {
	var keyHex string
	switch {
	case src.RawKey != "":
		keyHex = strings.TrimPrefix(src.RawKey, "0x")
	case src.EncryptedPath != "":
		data, err := os.ReadFile(src.EncryptedPath)
		if err != nil {
			return nil, fmt.Errorf("keystore: reading encrypted key file: %w", err)
		}
		keyHex, err = Decrypt(data, src.Password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("keystore: %w: no key source configured", domain.ErrInvalidKey)
	}

	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w: %v", domain.ErrInvalidKey, err)
	}

	return &Key{
		Private: pk,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Encrypt encrypts a hex-encoded private key with a password and returns a
// JSON blob suitable for writing to disk.
func Encrypt(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keystore: password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keystore: %w: not valid hex", domain.ErrInvalidKey)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("keystore: %w: expected 32-byte key, got %d bytes", domain.ErrInvalidKey, len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: generating nonce: %w", err)
	}

	out := keyFile{
		Version:    fileVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: kdfIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}

	return json.MarshalIndent(out, "", "  ")
}

// Decrypt reverses Encrypt, returning the hex-encoded private key without 0x
// prefix.
func Decrypt(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("keystore: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("keystore: parsing key file: %w", err)
	}
	if stored.Version != fileVersion {
		return "", fmt.Errorf("keystore: unsupported key file version %d", stored.Version)
	}
	iterations := stored.Iterations
	if iterations <= 0 {
		iterations = kdfIterations
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("keystore: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("keystore: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("keystore: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keystore: decryption failed (wrong password?): %w", err)
	}

	return hex.EncodeToString(plaintext), nil
}

// newGCM derives an AES-256 key from the password and salt and returns a
// ready AEAD cipher.
func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("keystore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: creating GCM: %w", err)
	}
	return gcm, nil
}
