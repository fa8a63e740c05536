package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "dispatch-chat-body-v1"

var (
	ErrAuthFailed = errors.New("message authentication failed")
	ErrUnknownKey = errors.New("message sealed with unknown key id")
	ErrInvalid    = errors.New("sealed message is invalid")
)

// Sealed is what gets persisted for a chat body: ciphertext carries the
// Poly1305 tag at its tail.
type Sealed struct {
	KeyID      string
	Nonce      []byte
	Ciphertext []byte
}

// MessageCipher seals chat bodies with XChaCha20-Poly1305. The active key
// seals; previous keys only open, so a rotation does not strand history.
type MessageCipher struct {
	activeID string
	aeads    map[string]cipher.AEAD
}

// NewMessageCipher derives one AEAD per key id from the raw key material.
func NewMessageCipher(activeID string, active []byte, previous map[string][]byte) (*MessageCipher, error) {
	if activeID == "" {
		return nil, errors.New("active key id is empty")
	}
	mc := &MessageCipher{activeID: activeID, aeads: make(map[string]cipher.AEAD, len(previous)+1)}
	add := func(id string, material []byte) error {
		if len(material) < 32 {
			return fmt.Errorf("key %q: need at least 32 bytes, got %d", id, len(material))
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, material, []byte(id), []byte(keyInfo)), key); err != nil {
			return err
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return err
		}
		mc.aeads[id] = aead
		return nil
	}
	if err := add(activeID, active); err != nil {
		return nil, err
	}
	for id, material := range previous {
		if id == activeID {
			continue
		}
		if err := add(id, material); err != nil {
			return nil, err
		}
	}
	return mc, nil
}

// ActiveKeyID reports which key new messages are sealed with.
func (mc *MessageCipher) ActiveKeyID() string { return mc.activeID }

// Seal encrypts plaintext; aad binds the ciphertext to its message context.
func (mc *MessageCipher) Seal(plaintext, aad []byte) (Sealed, error) {
	aead := mc.aeads[mc.activeID]
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, err
	}
	return Sealed{
		KeyID:      mc.activeID,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, aad),
	}, nil
}

// Open decrypts a sealed body.
func (mc *MessageCipher) Open(s Sealed, aad []byte) ([]byte, error) {
	aead, ok := mc.aeads[s.KeyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	if len(s.Nonce) != chacha20poly1305.NonceSizeX || len(s.Ciphertext) < aead.Overhead() {
		return nil, ErrInvalid
	}
	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
