// Package format detects and caches the account layout of token-creation
// instructions per mint.
package format

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"solana-wallet-monitor/internal/solana"
)

var (
	// ErrUnknownFormat is returned for an account-count and discriminator
	// combination that matches no known layout.
	ErrUnknownFormat = errors.New("unknown instruction format")

	// ErrLayoutMismatch is returned by Verify when a sample no longer matches
	// the cached layout. The entry has been invalidated.
	ErrLayoutMismatch = errors.New("layout mismatch")
)

// DefaultProgramID is the pump.fun bonding-curve program.
const DefaultProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Anchor instruction discriminators.
var (
	CreateDiscriminator   = AnchorDiscriminator("create")    // 24 30 200 40 5 28 7 119
	CreateV2Discriminator = AnchorDiscriminator("create_v2") // 214 144 76 236 95 139 49 180
)

// Account positions shared by every known layout.
const (
	mintAccountIndex    = 0
	creatorAccountIndex = 7
)

const creatorVaultSeed = "creator-vault"

// AnchorDiscriminator returns sha256("global:<name>")[:8].
func AnchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

// Variant enumerates the known account layouts.
type Variant int

const (
	Unknown Variant = iota
	FourteenAccount
	SixteenAccount
)

func (v Variant) String() string {
	switch v {
	case FourteenAccount:
		return "fourteen_account"
	case SixteenAccount:
		return "sixteen_account"
	}
	return "unknown"
}

// Layout is the detected shape of an instruction. VaultAuthority and VaultATA
// are set only for SixteenAccount.
type Layout struct {
	Variant        Variant
	VaultAuthority string
	VaultATA       string
}

// DerivedAccounts returns the auxiliary addresses by role.
func (l Layout) DerivedAccounts() map[string]string {
	if l.Variant != SixteenAccount {
		return map[string]string{}
	}
	return map[string]string{
		"vault_authority": l.VaultAuthority,
		"vault_ata":       l.VaultATA,
	}
}

type knownShape struct {
	discriminator []byte
	accounts      int
	variant       Variant
}

var knownShapes = []knownShape{
	{CreateDiscriminator, 14, FourteenAccount},
	{CreateDiscriminator, 16, SixteenAccount},
	{CreateV2Discriminator, 16, SixteenAccount},
}

// ClassifyLayout maps an account count and data prefix onto a known variant.
// It never guesses: anything outside the known table is ErrUnknownFormat.
func ClassifyLayout(accountCount int, data []byte) (Variant, error) {
	if len(data) < 8 {
		return Unknown, fmt.Errorf("%w: data shorter than discriminator", ErrUnknownFormat)
	}
	prefix := data[:8]
	for _, s := range knownShapes {
		if s.accounts == accountCount && bytes.Equal(s.discriminator, prefix) {
			return s.variant, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %d accounts, discriminator %v", ErrUnknownFormat, accountCount, prefix)
}

// IsCreate reports whether data starts with a token-creation discriminator.
func IsCreate(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return bytes.Equal(data[:8], CreateDiscriminator) || bytes.Equal(data[:8], CreateV2Discriminator)
}

// AssetKey returns the mint an instruction operates on.
func AssetKey(ix solana.Instruction) (string, bool) {
	if len(ix.Accounts) <= mintAccountIndex {
		return "", false
	}
	return ix.Accounts[mintAccountIndex], true
}

// deriveLayout computes the layout-specific accounts for ix.
func deriveLayout(variant Variant, ix solana.Instruction, programID string) (Layout, error) {
	layout := Layout{Variant: variant}
	if variant != SixteenAccount {
		return layout, nil
	}

	creator, err := solana.DecodeAddress(ix.Accounts[creatorAccountIndex])
	if err != nil {
		return Layout{}, fmt.Errorf("creator account: %w", err)
	}
	vault, _, err := solana.FindProgramAddress([][]byte{[]byte(creatorVaultSeed), creator}, programID)
	if err != nil {
		return Layout{}, fmt.Errorf("derive vault authority: %w", err)
	}

	tokenProgram := solana.TokenProgramID
	for _, acc := range ix.Accounts {
		if acc == solana.Token2022ProgramID {
			tokenProgram = solana.Token2022ProgramID
			break
		}
	}
	ata, err := solana.FindAssociatedTokenAddress(vault, ix.Accounts[mintAccountIndex], tokenProgram)
	if err != nil {
		return Layout{}, fmt.Errorf("derive vault ata: %w", err)
	}

	layout.VaultAuthority = vault
	layout.VaultATA = ata
	return layout, nil
}
