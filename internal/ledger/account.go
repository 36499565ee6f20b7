package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	// AccountScopeExternal is the issuance boundary: mints credit it, burns debit it.
	AccountScopeExternal
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope  AccountScope
	Holder common.Address // zero for external accounts
	Token  common.Address
}

// NewHolderAccountKey creates a key for a token holder
func NewHolderAccountKey(holder, token common.Address) AccountKey {
	return AccountKey{
		Scope:  AccountScopeHolder,
		Holder: holder,
		Token:  token,
	}
}

// NewIssuanceAccountKey creates the external boundary key for a token
func NewIssuanceAccountKey(token common.Address) AccountKey {
	return AccountKey{
		Scope: AccountScopeExternal,
		Token: token,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", strings.ToLower(k.Holder.Hex()), strings.ToLower(k.Token.Hex()))
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%s", strings.ToLower(k.Token.Hex()))
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "holder":
		if !common.IsHexAddress(parts[1]) || !common.IsHexAddress(parts[2]) {
			break
		}
		return NewHolderAccountKey(common.HexToAddress(parts[1]), common.HexToAddress(parts[2])), nil
	case len(parts) == 3 && parts[0] == "external" && parts[1] == "issuance":
		if !common.IsHexAddress(parts[2]) {
			break
		}
		return NewIssuanceAccountKey(common.HexToAddress(parts[2])), nil
	}
	return AccountKey{}, fmt.Errorf("invalid account path %q", path)
}

// TokenInfo describes a token known to the ledger
type TokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// TokenRegistry maps symbols to token addresses and decimals.
type TokenRegistry struct {
	bySymbol  map[string]TokenInfo
	byAddress map[common.Address]TokenInfo
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		bySymbol:  make(map[string]TokenInfo),
		byAddress: make(map[common.Address]TokenInfo),
	}
}

// Register adds a token. Symbols and addresses must both be unique.
func (r *TokenRegistry) Register(info TokenInfo) error {
	if info.Address == (common.Address{}) {
		return fmt.Errorf("token %s: zero address", info.Symbol)
	}
	if _, exists := r.bySymbol[info.Symbol]; exists {
		return fmt.Errorf("token symbol %s already registered", info.Symbol)
	}
	if _, exists := r.byAddress[info.Address]; exists {
		return fmt.Errorf("token address %s already registered", info.Address.Hex())
	}
	r.bySymbol[info.Symbol] = info
	r.byAddress[info.Address] = info
	return nil
}

func (r *TokenRegistry) BySymbol(symbol string) (TokenInfo, bool) {
	info, ok := r.bySymbol[symbol]
	return info, ok
}

func (r *TokenRegistry) ByAddress(addr common.Address) (TokenInfo, bool) {
	info, ok := r.byAddress[addr]
	return info, ok
}

// Resolve accepts either a symbol or a hex address.
func (r *TokenRegistry) Resolve(s string) (TokenInfo, bool) {
	if info, ok := r.bySymbol[s]; ok {
		return info, true
	}
	if common.IsHexAddress(s) {
		return r.ByAddress(common.HexToAddress(s))
	}
	return TokenInfo{}, false
}

// All returns every registered token
func (r *TokenRegistry) All() []TokenInfo {
	out := make([]TokenInfo, 0, len(r.byAddress))
	for _, info := range r.byAddress {
		out = append(out, info)
	}
	return out
}
