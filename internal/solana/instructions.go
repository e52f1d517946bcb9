package solana

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Instructions resolves the top-level instructions of tx into program and
// account addresses with decoded data.
func (tx *Transaction) Instructions() ([]Instruction, error) {
	if tx == nil || tx.Message == nil {
		return nil, nil
	}
	keys := tx.AllAccountKeys()

	out := make([]Instruction, 0, len(tx.Message.Instructions))
	for i, ci := range tx.Message.Instructions {
		if ci.ProgramIDIndex < 0 || ci.ProgramIDIndex >= len(keys) {
			return nil, fmt.Errorf("instruction %d: program index %d out of range", i, ci.ProgramIDIndex)
		}
		accounts := make([]string, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if idx < 0 || idx >= len(keys) {
				return nil, fmt.Errorf("instruction %d: account index %d out of range", i, idx)
			}
			accounts[j] = keys[idx]
		}
		var data []byte
		if ci.Data != "" {
			decoded, err := base58.Decode(ci.Data)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: decode data: %w", i, err)
			}
			data = decoded
		}
		out = append(out, Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Accounts:  accounts,
			Data:      data,
		})
	}
	return out, nil
}

// InstructionsForProgram returns the instructions of tx invoking programID.
func (tx *Transaction) InstructionsForProgram(programID string) ([]Instruction, error) {
	all, err := tx.Instructions()
	if err != nil {
		return nil, err
	}
	var out []Instruction
	for _, ix := range all {
		if ix.ProgramID == programID {
			out = append(out, ix)
		}
	}
	return out, nil
}
