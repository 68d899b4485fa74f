package corridor

import (
	"fmt"
)

// ChainKind is the closed set of chain families the corridor can talk to.
// Routing always goes through an explicit switch or dispatch table on this
// type; there is no try-each-SDK fallback.
type ChainKind uint8

const (
	ChainKindUnset ChainKind = iota
	ChainKindEVM
	ChainKindSolana
)

func (k ChainKind) String() string {
	switch k {
	case ChainKindEVM:
		return "evm"
	case ChainKindSolana:
		return "solana"
	case ChainKindUnset:
		return "unset"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ChainKindFromString parses a config-supplied chain kind. Unknown kinds are
// a load-time error, never a silent fallthrough.
func ChainKindFromString(s string) (ChainKind, error) {
	switch s {
	case "evm":
		return ChainKindEVM, nil
	case "solana":
		return ChainKindSolana, nil
	default:
		return ChainKindUnset, fmt.Errorf("unsupported chain kind: %q", s)
	}
}

// Domain is a bridge-protocol chain identifier.
type Domain uint32

// Bridge protocol domains for the one corridor this system serves.
const (
	DomainSolana Domain = 5
	DomainBase   Domain = 6
)
