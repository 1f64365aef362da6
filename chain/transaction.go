// chain/transaction.go
package chain

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// systemTransferTag is the u32 instruction index of SystemProgram::Transfer.
const systemTransferTag = 2

// ErrMalformedTemplate is returned when a persisted template no longer parses
// into the submit_solution shape.
var ErrMalformedTemplate = errors.New("chain: malformed transaction template")

// InnerInstructionSet groups the instructions a top-level instruction invoked.
type InnerInstructionSet struct {
	Index        uint16
	Instructions []solana.CompiledInstruction
}

// ExecutedTransaction is the subset of a finalized transaction the verifier needs.
type ExecutedTransaction struct {
	Signature         solana.Signature
	Slot              uint64
	Failed            bool
	AccountKeys       []solana.PublicKey
	Instructions      []solana.CompiledInstruction
	InnerInstructions []InnerInstructionSet
}

// Transfer is a decoded system-program lamport move.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
}

// SOL returns the transferred amount in SOL.
func (t Transfer) SOL() float64 { return float64(t.Lamports) / LamportsPerSOL }

// FirstInnerTransfer inspects only the first instruction of the first inner
// instruction set. The payment shape is one program call wrapping one transfer.
func (t *ExecutedTransaction) FirstInnerTransfer() (Transfer, bool) {
	if len(t.InnerInstructions) == 0 || len(t.InnerInstructions[0].Instructions) == 0 {
		return Transfer{}, false
	}
	return t.decodeSystemTransfer(t.InnerInstructions[0].Instructions[0])
}

// SystemTransferTotal sums every system transfer, outer and inner, moving
// lamports from source to destination.
func (t *ExecutedTransaction) SystemTransferTotal(source, destination solana.PublicKey) (uint64, int) {
	var total uint64
	matched := 0
	visit := func(ix solana.CompiledInstruction) {
		tr, ok := t.decodeSystemTransfer(ix)
		if !ok || !tr.Source.Equals(source) || !tr.Destination.Equals(destination) {
			return
		}
		total += tr.Lamports
		matched++
	}
	for _, ix := range t.Instructions {
		visit(ix)
	}
	for _, set := range t.InnerInstructions {
		for _, ix := range set.Instructions {
			visit(ix)
		}
	}
	return total, matched
}

func (t *ExecutedTransaction) key(idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(t.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return t.AccountKeys[idx], true
}

func (t *ExecutedTransaction) decodeSystemTransfer(ix solana.CompiledInstruction) (Transfer, bool) {
	program, ok := t.key(ix.ProgramIDIndex)
	if !ok || !program.Equals(solana.SystemProgramID) {
		return Transfer{}, false
	}
	data := []byte(ix.Data)
	if len(data) < 12 || len(ix.Accounts) < 2 {
		return Transfer{}, false
	}
	if binary.LittleEndian.Uint32(data[:4]) != systemTransferTag {
		return Transfer{}, false
	}
	src, ok := t.key(ix.Accounts[0])
	if !ok {
		return Transfer{}, false
	}
	dst, ok := t.key(ix.Accounts[1])
	if !ok {
		return Transfer{}, false
	}
	return Transfer{
		Source:      src,
		Destination: dst,
		Lamports:    binary.LittleEndian.Uint64(data[4:12]),
	}, true
}

// EncodeTemplate serialises an unsigned transaction with zero-filled signature
// slots so wallets can sign it in place. The result is base64.
func EncodeTemplate(tx *solana.Transaction) (string, error) {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < required {
		tx.Signatures = make([]solana.Signature, required)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal template: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTemplate parses a base64 template blob back into a transaction.
func DecodeTemplate(blob string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	return tx, nil
}

// TemplateParties returns the payer and destination keys of a submit_solution
// template, read from the instruction's account slots.
func TemplateParties(tx *solana.Transaction) (payer, destination solana.PublicKey, err error) {
	if len(tx.Message.Instructions) == 0 {
		return payer, destination, fmt.Errorf("%w: no instructions", ErrMalformedTemplate)
	}
	ix := tx.Message.Instructions[0]
	if len(ix.Accounts) <= SubmitSlotPayer {
		return payer, destination, fmt.Errorf("%w: instruction has %d accounts", ErrMalformedTemplate, len(ix.Accounts))
	}
	keys := tx.Message.AccountKeys
	payerIdx, destIdx := int(ix.Accounts[SubmitSlotPayer]), int(ix.Accounts[SubmitSlotTournament])
	if payerIdx >= len(keys) || destIdx >= len(keys) {
		return payer, destination, fmt.Errorf("%w: account index out of range", ErrMalformedTemplate)
	}
	return keys[payerIdx], keys[destIdx], nil
}

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return pk, nil
}
