package cctp

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/wire"
)

// PDA seed strings fixed by the destination programs.
var (
	seedMessageTransmitter   = []byte("message_transmitter")
	seedTransmitterAuthority = []byte("message_transmitter_authority")
	seedUsedNonce            = []byte("used_nonce")
	seedTokenMessenger       = []byte("token_messenger")
	seedRemoteTokenMessenger = []byte("remote_token_messenger")
	seedTokenMinter          = []byte("token_minter")
	seedLocalToken           = []byte("local_token")
	seedTokenPair            = []byte("token_pair")
	seedEventAuthority       = []byte("__event_authority")
)

// State field names resolveAccounts knows how to read.
const (
	stateFieldFeeRecipient = "fee_recipient"
	stateFieldCustody      = "custody"
)

// mintAccountTable lays out the receive-message instruction's accounts after
// the payer, in program order, as tagged sources. The fee recipient and
// custody token accounts are AccountFromState entries: they exist only in
// initialized program state and must never be derived by convention. The
// table is validated here, once, before anything resolves it.
func (c *Client) mintAccountTable(msg *wire.BridgeMessage, body *wire.BurnBody) (corridor.AccountTable, error) {
	remoteDomain := []byte(strconv.FormatUint(uint64(msg.SourceDomain), 10))
	var domainSeed [4]byte
	binary.BigEndian.PutUint32(domainSeed[:], msg.SourceDomain)

	derived := func(name string, program solana.PublicKey, writable bool, seeds ...[]byte) corridor.AccountSource {
		return corridor.AccountSource{Name: name, Kind: corridor.AccountDerived, Seeds: seeds, Program: program, Writable: writable}
	}
	static := func(name string, addr solana.PublicKey, writable bool) corridor.AccountSource {
		return corridor.AccountSource{Name: name, Kind: corridor.AccountStatic, Address: addr, Writable: writable}
	}

	table := corridor.AccountTable{
		{Name: "caller", Kind: corridor.AccountStatic, Address: c.payer.PublicKey(), Signer: true},
		derived("transmitter_authority", c.transmitterProgram, false, seedTransmitterAuthority, c.messengerMinterProgram.Bytes()),
		derived("message_transmitter", c.transmitterProgram, false, seedMessageTransmitter),
		derived("used_nonce", c.transmitterProgram, true, seedUsedNonce, domainSeed[:], msg.Nonce[:]),
		static("receiver_program", c.messengerMinterProgram, false),
		static("system_program", solana.SystemProgramID, false),
		derived("transmitter_event_authority", c.transmitterProgram, false, seedEventAuthority),
		static("transmitter_program", c.transmitterProgram, false),

		// Remaining accounts, owned by the token messenger minter.
		derived("token_messenger", c.messengerMinterProgram, false, seedTokenMessenger),
		derived("remote_token_messenger", c.messengerMinterProgram, false, seedRemoteTokenMessenger, remoteDomain),
		derived("token_minter", c.messengerMinterProgram, true, seedTokenMinter),
		derived("local_token", c.messengerMinterProgram, true, seedLocalToken, c.usdcMint.Bytes()),
		derived("token_pair", c.messengerMinterProgram, false, seedTokenPair, remoteDomain, body.BurnToken[:]),
		{Name: "fee_recipient_token_account", Kind: corridor.AccountFromState, StateField: stateFieldFeeRecipient, Writable: true},
		static("recipient_token_account", solana.PublicKeyFromBytes(body.MintRecipient[:]), true),
		{Name: "custody_token_account", Kind: corridor.AccountFromState, StateField: stateFieldCustody, Writable: true},
		static("token_program", solana.TokenProgramID, false),
		derived("messenger_event_authority", c.messengerMinterProgram, false, seedEventAuthority),
		static("minter_program", c.messengerMinterProgram, false),
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("mint account table: %w", err)
	}
	return table, nil
}

// deriveTableAccounts resolves every static and derived entry to its
// address, keyed by entry name. AccountFromState entries are left for
// resolveAccounts; everything here is a pure function of the table.
func deriveTableAccounts(table corridor.AccountTable) (map[string]solana.PublicKey, error) {
	out := make(map[string]solana.PublicKey, len(table))
	for i := range table {
		a := &table[i]
		switch a.Kind {
		case corridor.AccountStatic:
			out[a.Name] = a.Address
		case corridor.AccountDerived:
			key, _, err := solana.FindProgramAddress(a.Seeds, a.Program)
			if err != nil {
				return nil, fmt.Errorf("failed to derive account %q: %w", a.Name, err)
			}
			out[a.Name] = key
		}
	}
	return out, nil
}

// metasFromTable orders fully resolved addresses back into instruction
// metas, preserving the table's account order and flags.
func metasFromTable(table corridor.AccountTable, resolved map[string]solana.PublicKey) (solana.AccountMetaSlice, error) {
	metas := make(solana.AccountMetaSlice, 0, len(table))
	for i := range table {
		a := &table[i]
		key, ok := resolved[a.Name]
		if !ok {
			return nil, fmt.Errorf("account %q has no resolved address", a.Name)
		}
		metas = append(metas, solana.NewAccountMeta(key, a.Writable, a.Signer))
	}
	return metas, nil
}

// resolveAccounts turns a validated table into the instruction's account
// metas, reading the state-backed entries from on-chain program state.
func (c *Client) resolveAccounts(ctx context.Context, table corridor.AccountTable) (solana.AccountMetaSlice, error) {
	resolved, err := deriveTableAccounts(table)
	if err != nil {
		return nil, err
	}

	state, err := c.resolveStateAccounts(ctx, resolved["token_messenger"], resolved["local_token"])
	if err != nil {
		return nil, err
	}
	for i := range table {
		a := &table[i]
		if a.Kind != corridor.AccountFromState {
			continue
		}
		switch a.StateField {
		case stateFieldFeeRecipient:
			resolved[a.Name] = state.FeeRecipientTokenAccount
		case stateFieldCustody:
			resolved[a.Name] = state.CustodyTokenAccount
		default:
			return nil, fmt.Errorf("account %q: no reader for state field %q", a.Name, a.StateField)
		}
	}

	return metasFromTable(table, resolved)
}
