package space

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/weftwork/weft/errors"
)

// Secrets are persisted outside the replicated tree as a single encrypted
// blob: base64(iv || AES-GCM ciphertext) with a 96-bit random IV. The key is
// derived from the space id, so any peer of the space can open the blob
// without extra key exchange — the blob guards against casual disk reads,
// not against an attacker who knows the space id.

const gcmIVSize = 12

// ErrSecretDecrypt marks a secrets blob that cannot be opened. Callers fall
// back to an empty secret map; the space stays usable.
var ErrSecretDecrypt = errors.New("failed to decrypt secrets")

func secretsKey(spaceID string) []byte {
	sum := sha256.Sum256([]byte(spaceID))
	return sum[:]
}

// EncryptSecrets seals the secret map into the blob form stored on disk.
func EncryptSecrets(spaceID string, secrets map[string]string) (string, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal secrets")
	}

	block, err := aes.NewCipher(secretsKey(spaceID))
	if err != nil {
		return "", errors.Wrap(err, "failed to build secrets cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "failed to build secrets GCM")
	}

	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.Wrap(err, "failed to generate secrets IV")
	}

	sealed := gcm.Seal(iv, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecrets opens a blob produced by EncryptSecrets. Any failure —
// malformed base64, short blob, wrong key, tampered ciphertext — returns
// ErrSecretDecrypt.
func DecryptSecrets(spaceID, blob string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, errors.Wrap(ErrSecretDecrypt, err.Error())
	}
	if len(raw) < gcmIVSize {
		return nil, errors.Wrap(ErrSecretDecrypt, "blob shorter than IV")
	}

	block, err := aes.NewCipher(secretsKey(spaceID))
	if err != nil {
		return nil, errors.Wrap(ErrSecretDecrypt, err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(ErrSecretDecrypt, err.Error())
	}

	plaintext, err := gcm.Open(nil, raw[:gcmIVSize], raw[gcmIVSize:], nil)
	if err != nil {
		return nil, errors.Wrap(ErrSecretDecrypt, err.Error())
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, errors.Wrap(ErrSecretDecrypt, err.Error())
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return secrets, nil
}
