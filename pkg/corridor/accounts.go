package corridor

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountSourceKind says how one entry of the mint instruction's account
// table is obtained.
type AccountSourceKind uint8

const (
	// AccountStatic is a fixed address supplied by configuration.
	AccountStatic AccountSourceKind = iota + 1
	// AccountDerived is a PDA of configured seeds under a configured program.
	AccountDerived
	// AccountFromState must be read from already-initialized on-chain state
	// at submit time (fee recipient, custody). It cannot be derived from
	// static inputs and configuring it as derived is a validation error.
	AccountFromState
)

func (k AccountSourceKind) String() string {
	switch k {
	case AccountStatic:
		return "static"
	case AccountDerived:
		return "derived"
	case AccountFromState:
		return "state"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// AccountSource is one tagged entry of the mint account table. Exactly the
// fields implied by Kind may be set; Validate enforces that once, at config
// load, so nothing downstream probes for shapes at runtime.
type AccountSource struct {
	Name    string
	Kind    AccountSourceKind
	Address solana.PublicKey // AccountStatic
	Seeds   [][]byte         // AccountDerived
	Program solana.PublicKey // AccountDerived
	// StateField names the program-state field holding the address for
	// AccountFromState entries (e.g. "fee_recipient", "custody").
	StateField string
	Writable   bool
	Signer     bool
}

func (a *AccountSource) Validate() error {
	switch a.Kind {
	case AccountStatic:
		if a.Address.IsZero() {
			return fmt.Errorf("account %q: static source requires an address", a.Name)
		}
		if len(a.Seeds) != 0 || a.StateField != "" {
			return fmt.Errorf("account %q: static source must not carry seeds or a state field", a.Name)
		}
	case AccountDerived:
		if len(a.Seeds) == 0 {
			return fmt.Errorf("account %q: derived source requires seeds", a.Name)
		}
		if a.Program.IsZero() {
			return fmt.Errorf("account %q: derived source requires a program", a.Name)
		}
		if !a.Address.IsZero() || a.StateField != "" {
			return fmt.Errorf("account %q: derived source must not carry an address or state field", a.Name)
		}
	case AccountFromState:
		if a.StateField == "" {
			return fmt.Errorf("account %q: state source requires a state field", a.Name)
		}
		if !a.Address.IsZero() || len(a.Seeds) != 0 {
			return fmt.Errorf("account %q: state source must not carry an address or seeds", a.Name)
		}
	default:
		return fmt.Errorf("account %q: unknown source kind %d", a.Name, a.Kind)
	}
	return nil
}

// AccountTable is the ordered "remaining accounts" set of the mint
// instruction.
type AccountTable []AccountSource

func (t AccountTable) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for i := range t {
		a := &t[i]
		if a.Name == "" {
			return fmt.Errorf("account table entry %d: missing name", i)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("account table: duplicate entry %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}
