package transform

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
)

// Filename suffixes appended by the transform steps.
const (
	SuffixGzip = ".gz"
	SuffixZstd = ".zst"
	SuffixGPG  = ".gpg"
)

const armorBlockType = "PGP MESSAGE"

// Encryption encrypts on Apply (to the configured recipient's public key,
// ASCII-armored) and decrypts on Reverse (with the configured private key
// and passphrase). Key material is read lazily so a backup never needs the
// private key and a restore never needs the public one.
type Encryption struct {
	Recipient      string
	PublicKeyPath  string
	PrivateKeyPath string
	Passphrase     string

	// PromptPassphrase is consulted when the private key is protected and
	// no passphrase is configured. Nil means fail instead of prompting.
	PromptPassphrase func() (string, error)
}

// NewEncryption builds an Encryption step from the process configuration.
func NewEncryption(cfg *config.Config) (*Encryption, error) {
	return &Encryption{
		Recipient:      cfg.GPGRecipient,
		PublicKeyPath:  cfg.GPGPublicKeyPath,
		PrivateKeyPath: cfg.GPGPrivateKeyPath,
		Passphrase:     cfg.GPGPassphrase,
	}, nil
}

func (e *Encryption) Name() string   { return "gpg" }
func (e *Encryption) Suffix() string { return SuffixGPG }

// Apply encrypts src to the recipient's public key. Output is ASCII-armored
// and begins with "-----BEGIN PGP MESSAGE-----".
func (e *Encryption) Apply(src io.Reader) (*fs.Spool, error) {
	if e.PublicKeyPath == "" {
		return nil, apperrors.EncryptionFailed("no public key configured (GPG_PUBLIC_KEY)", nil)
	}
	ring, err := loadKeyRing(e.PublicKeyPath)
	if err != nil {
		return nil, apperrors.EncryptionFailed("cannot read public key file", err)
	}
	recipients, err := e.recipientEntities(ring)
	if err != nil {
		return nil, err
	}

	out := fs.NewSpool()
	armored, err := armor.Encode(out, armorBlockType, nil)
	if err != nil {
		out.Close()
		return nil, apperrors.EncryptionFailed("cannot start armored output", err)
	}
	plaintext, err := openpgp.Encrypt(armored, recipients, nil, nil, nil)
	if err != nil {
		armored.Close()
		out.Close()
		return nil, apperrors.EncryptionFailed("cannot start encryption", err)
	}
	if _, err := io.Copy(plaintext, src); err != nil {
		plaintext.Close()
		armored.Close()
		out.Close()
		return nil, apperrors.EncryptionFailed("encrypting stream", err)
	}
	if err := plaintext.Close(); err != nil {
		armored.Close()
		out.Close()
		return nil, apperrors.EncryptionFailed("finishing encryption", err)
	}
	if err := armored.Close(); err != nil {
		out.Close()
		return nil, apperrors.EncryptionFailed("finishing armored output", err)
	}
	if err := out.Rewind(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Reverse decrypts an armored PGP message with the configured private key.
func (e *Encryption) Reverse(src io.Reader) (*fs.Spool, error) {
	if e.PrivateKeyPath == "" {
		return nil, apperrors.DecryptionFailed("no private key configured (GPG_PRIVATE_KEY)", nil)
	}
	ring, err := loadKeyRing(e.PrivateKeyPath)
	if err != nil {
		return nil, apperrors.DecryptionFailed("cannot read private key file", err)
	}

	passphrase := e.Passphrase
	if err := e.unlockKeys(ring, passphrase); err != nil {
		return nil, err
	}

	block, err := armor.Decode(src)
	if err != nil {
		return nil, apperrors.DecryptionFailed("input is not an armored PGP message", err)
	}

	prompted := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if prompted {
			return nil, apperrors.DecryptionFailed("wrong passphrase for private key", nil)
		}
		prompted = true
		if passphrase == "" && e.PromptPassphrase != nil {
			p, err := e.PromptPassphrase()
			if err != nil {
				return nil, err
			}
			passphrase = p
		}
		for _, k := range keys {
			if k.PrivateKey != nil && k.PrivateKey.Encrypted {
				k.PrivateKey.Decrypt([]byte(passphrase))
			}
		}
		return []byte(passphrase), nil
	}

	md, err := openpgp.ReadMessage(block.Body, ring, prompt, nil)
	if err != nil {
		return nil, apperrors.DecryptionFailed("cannot read PGP message", err)
	}

	out := fs.NewSpool()
	if _, err := io.Copy(out, md.UnverifiedBody); err != nil {
		out.Close()
		return nil, apperrors.DecryptionFailed("decrypting stream", err)
	}
	if err := out.Rewind(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// unlockKeys decrypts passphrase-protected private keys up front. Keys that
// do not take the configured passphrase stay locked; ReadMessage falls back
// to the prompt for those.
func (e *Encryption) unlockKeys(ring openpgp.EntityList, passphrase string) error {
	if passphrase == "" {
		return nil
	}
	for _, entity := range ring {
		if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
			entity.PrivateKey.Decrypt([]byte(passphrase))
		}
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				sub.PrivateKey.Decrypt([]byte(passphrase))
			}
		}
	}
	return nil
}

// recipientEntities filters the keyring down to the configured recipient.
// An empty recipient encrypts to every key in the ring.
func (e *Encryption) recipientEntities(ring openpgp.EntityList) ([]*openpgp.Entity, error) {
	if e.Recipient == "" {
		if len(ring) == 0 {
			return nil, apperrors.EncryptionFailed("public key file holds no keys", nil)
		}
		return ring, nil
	}
	want := strings.ToLower(e.Recipient)
	var matched []*openpgp.Entity
	for _, entity := range ring {
		if entityMatches(entity, want) {
			matched = append(matched, entity)
		}
	}
	if len(matched) == 0 {
		return nil, apperrors.EncryptionFailed(
			fmt.Sprintf("recipient %q not found in public key file", e.Recipient), nil)
	}
	return matched, nil
}

func entityMatches(entity *openpgp.Entity, want string) bool {
	if entity.PrimaryKey != nil {
		id := strings.ToLower(entity.PrimaryKey.KeyIdString())
		if id == want || strings.HasSuffix(id, want) {
			return true
		}
	}
	for _, identity := range entity.Identities {
		if identity.UserId == nil {
			continue
		}
		if strings.ToLower(identity.UserId.Email) == want {
			return true
		}
		if strings.ToLower(identity.UserId.Name) == want {
			return true
		}
	}
	return false
}

func loadKeyRing(path string) (openpgp.EntityList, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		// Binary keyring fallback
		ring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	return ring, err
}
