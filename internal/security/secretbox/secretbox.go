// Package secretbox cifra secretos opacos (tokens OAuth) con AES-256-GCM.
// El formato de salida es base64(nonce)|base64(ciphertext).
//
// A diferencia de un singleton de paquete, acá la clave vive en un Cipher que
// se inyecta por constructor: la lógica de negocio nunca toca estado global.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// EnvMasterKey es la variable de entorno con la clave maestra (base64).
	EnvMasterKey = "ADBRIDGE_MASTER_KEY"

	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

// ErrEphemeralKey lo devuelve NewFromEnv cuando generó una clave efímera:
// los tokens cifrados no sobreviven un restart. El caller decide si es fatal.
var ErrEphemeralKey = errors.New("secretbox: clave efímera generada; los tokens no sobreviven restarts")

// Cipher cifra y descifra strings con una clave AES-256 fija.
// Seguro para uso concurrente: la clave es inmutable después de construir.
type Cipher struct {
	aead cipher.AEAD
}

// New construye un Cipher con una clave cruda de 32 bytes.
func New(key []byte) (*Cipher, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("secretbox: clave de %d bytes (requiere %d)", len(key), requiredKeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromPassphrase deriva la clave con HKDF-SHA256 desde un secreto arbitrario.
// Útil cuando la config trae una passphrase en vez de 32 bytes exactos.
func NewFromPassphrase(passphrase string) (*Cipher, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("secretbox: passphrase vacía")
	}
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("adbridge-token-cipher-v1"))
	key := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return New(key)
}

// NewFromEnv lee la clave desde ADBRIDGE_MASTER_KEY (base64 estándar, base64
// sin padding, hex de 64 chars, o 32 bytes crudos). Si la variable no está,
// genera una clave aleatoria de proceso y devuelve ErrEphemeralKey junto con
// el Cipher utilizable: deployment productivo debe pinear la clave afuera.
func NewFromEnv() (*Cipher, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		key := make([]byte, requiredKeyLength)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generar clave efímera: %w", err)
		}
		c, err := New(key)
		if err != nil {
			return nil, err
		}
		return c, ErrEphemeralKey
	}
	key, err := DecodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EnvMasterKey, err)
	}
	return New(key)
}

// DecodeKey acepta una clave en base64 (std o raw), hex (64 chars) o cruda
// (32 bytes) y devuelve los 32 bytes.
func DecodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)

	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	// hex: 64 chars = 32 bytes
	if len(key) == 64 {
		if h, err := hex.DecodeString(key); err == nil && len(h) == requiredKeyLength {
			return h, nil
		}
	}
	if len(key) == requiredKeyLength {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("clave inválida: requiere %d bytes (base64, hex o raw)", requiredKeyLength)
}

// GenerateKey produce una clave nueva de 32 bytes en base64, lista para
// ADBRIDGE_MASTER_KEY. La usa el subcomando keygen.
func GenerateKey() (string, error) {
	key := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
// El plaintext vacío es un error: un secreto vacío siempre es un bug aguas arriba.
func (c *Cipher) Encrypt(plainText string) (string, error) {
	if plainText == "" {
		return "", errors.New("secretbox: plaintext vacío")
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, []byte(plainText), nil)

	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	ctB64 := base64.StdEncoding.EncodeToString(ct)
	return nonceB64 + sep + ctB64, nil
}

// Decrypt recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
// Falla en formato inválido o si la autenticación GCM no verifica (clave
// equivocada o ciphertext manipulado).
func (c *Cipher) Decrypt(cipherText string) (string, error) {
	if cipherText == "" {
		return "", errors.New("secretbox: ciphertext vacío")
	}

	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}

	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}
