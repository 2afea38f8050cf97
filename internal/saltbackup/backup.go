// Package saltbackup converts the user salt to and from a BIP-39 mnemonic.
// The derived address is a function of the salt: losing the salt permanently
// orphans the account, so users need a backup they can write down.
package saltbackup

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidSalt     = errors.New("salt is not backupable")
	ErrInvalidMnemonic = errors.New("invalid backup mnemonic")
)

// ExportMnemonic encodes a hex salt as a mnemonic phrase. The salt must
// decode to a BIP-39 entropy length (16-32 bytes, multiple of 4).
func ExportMnemonic(salt string) (string, error) {
	entropy, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(salt), "0x"))
	if err != nil {
		return "", ErrInvalidSalt
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", ErrInvalidSalt
	}
	return mnemonic, nil
}

// ImportMnemonic recovers the hex salt from a backup phrase.
func ImportMnemonic(mnemonic string) (string, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrInvalidMnemonic
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return "", ErrInvalidMnemonic
	}
	return hex.EncodeToString(entropy), nil
}
