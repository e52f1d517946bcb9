package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

const maxSeedLength = 32

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// DecodeAddress decodes a base58 public key and checks its length.
func DecodeAddress(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("address %q: expected 32 bytes, got %d", address, len(b))
	}
	return b, nil
}

// FindProgramAddress derives a Program Derived Address and its bump seed.
//
// Derivation: sha256(seeds || bump || programID || "ProgramDerivedAddress"),
// searching bump from 255 downwards for the first hash off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	programBytes, err := DecodeAddress(programID)
	if err != nil {
		return "", 0, err
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return "", 0, fmt.Errorf("seed length %d exceeds %d", len(seed), maxSeedLength)
		}
	}

	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, programBytes...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, ErrNoViableBump
}

// FindAssociatedTokenAddress derives the associated token account of owner for mint.
func FindAssociatedTokenAddress(owner, mint, tokenProgram string) (string, error) {
	if tokenProgram == "" {
		tokenProgram = TokenProgramID
	}
	ownerBytes, err := DecodeAddress(owner)
	if err != nil {
		return "", err
	}
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	tokenBytes, err := DecodeAddress(tokenProgram)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{ownerBytes, tokenBytes, mintBytes}, AssociatedTokenProgramID)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
