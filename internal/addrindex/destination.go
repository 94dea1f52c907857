package addrindex

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// Kind tags a script's resolved destination, matching the dynamic
// script dispatch design note (§9): a tagged variant rather than
// polymorphic method dispatch, so AddrIdx and the contract state store
// can pattern-match on it directly.
type Kind uint8

const (
	Unresolved Kind = iota
	KeyHash
	ScriptHash
	Contract
	BranchTransfer
)

// Destination is what a script resolves to.
type Destination struct {
	Kind    Kind
	Address types.Address // valid only when Kind == KeyHash
}

// Resolve extracts the destination tag from a script. AddrIdx only
// indexes KeyHash destinations (spec invariant I3); every other kind is
// surfaced for callers (e.g. the contract state store) that care about
// Contract/BranchTransfer instead.
func Resolve(s types.Script) Destination {
	switch s.Type {
	case types.ScriptTypeP2PKH:
		if len(s.Data) < types.AddressSize {
			return Destination{Kind: Unresolved}
		}
		var addr types.Address
		copy(addr[:], s.Data[:types.AddressSize])
		return Destination{Kind: KeyHash, Address: addr}
	case types.ScriptTypeP2SH:
		return Destination{Kind: ScriptHash}
	case types.ScriptTypeMint, types.ScriptTypeAnchor, types.ScriptTypeRegister:
		return Destination{Kind: Contract}
	case types.ScriptTypeBridge:
		return Destination{Kind: BranchTransfer}
	default:
		// Burn, Stake, and anything unrecognized carry no address-index
		// destination, so the address index never lists them.
		return Destination{Kind: Unresolved}
	}
}
