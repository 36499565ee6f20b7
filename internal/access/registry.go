package access

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability granted to an address.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleLiquidator    Role = "liquidator"
	RoleRewardManager Role = "reward_manager"
	RoleClaimProxy    Role = "claim_proxy"
	// RoleMinter may issue tokens through the ledger (bridge / faucet).
	RoleMinter Role = "minter"
	// RoleOracle may push collateral ratio updates to the treasury.
	RoleOracle Role = "oracle"
)

// KnownRoles lists every role the registry accepts.
var KnownRoles = []Role{RoleAdmin, RoleLiquidator, RoleRewardManager, RoleClaimProxy, RoleMinter, RoleOracle}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range KnownRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Registry is an in-memory role table.
// Not thread-safe; only accessed from the single-threaded core.
type Registry struct {
	grants map[Role]map[common.Address]struct{}
}

func NewRegistry() *Registry {
	return &Registry{grants: make(map[Role]map[common.Address]struct{})}
}

// HasRole reports whether account holds role.
func (r *Registry) HasRole(role Role, account common.Address) bool {
	_, ok := r.grants[role][account]
	return ok
}

// Grant adds role to account. Returns false if it was already held.
func (r *Registry) Grant(role Role, account common.Address) bool {
	members, ok := r.grants[role]
	if !ok {
		members = make(map[common.Address]struct{})
		r.grants[role] = members
	}
	if _, held := members[account]; held {
		return false
	}
	members[account] = struct{}{}
	return true
}

// Revoke removes role from account. Returns false if it was not held.
func (r *Registry) Revoke(role Role, account common.Address) bool {
	members := r.grants[role]
	if _, held := members[account]; !held {
		return false
	}
	delete(members, account)
	return true
}

// Members returns the holders of role in address order.
func (r *Registry) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(r.grants[role]))
	for addr := range r.grants[role] {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Export returns every grant keyed by role name (for snapshots).
func (r *Registry) Export() map[string][]string {
	out := make(map[string][]string, len(r.grants))
	for _, role := range KnownRoles {
		members := r.Members(role)
		if len(members) == 0 {
			continue
		}
		hexes := make([]string, len(members))
		for i, m := range members {
			hexes[i] = m.Hex()
		}
		out[string(role)] = hexes
	}
	return out
}

// Import replaces all grants.
func (r *Registry) Import(grants map[string][]string) error {
	r.grants = make(map[Role]map[common.Address]struct{})
	for name, members := range grants {
		role, err := ParseRole(name)
		if err != nil {
			return err
		}
		for _, m := range members {
			if !common.IsHexAddress(m) {
				return fmt.Errorf("role %s: invalid address %q", name, m)
			}
			r.Grant(role, common.HexToAddress(m))
		}
	}
	return nil
}
