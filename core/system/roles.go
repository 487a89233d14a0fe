package system

import (
	"slices"

	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// Role names shared by the native blueprints.
const (
	RoleOwner      = "owner"
	RoleMinter     = "minter"
	RoleBurner     = "burner"
	RoleWithdrawer = "withdrawer"
	RoleDepositor  = "depositor"
)

// Invocation is what the modules need to know about a call before it runs.
type Invocation struct {
	Package   types.NodeID
	Blueprint string
	Function  string
	Role      string
	Rule      auth.AccessRule
	// ResourceOp marks calls into the resource package, whose rules are
	// checked against the caller's zone as well.
	ResourceOp bool
	Royalty    resource.Decimal
}

// Resolve looks up the definition behind actor and the access rule guarding
// it. It reads through the inspector and takes no locks.
func (s *System) Resolve(insp kernel.Inspector, actor kernel.Actor) (*Invocation, error) {
	load := inspectorLoader(insp)
	_, bp, fn, err := s.lookup(load, actor)
	if err != nil {
		return nil, err
	}
	inv := &Invocation{
		Package:    actor.Package,
		Blueprint:  actor.Blueprint,
		Function:   actor.Function,
		Role:       fn.Role,
		Rule:       auth.AllowAll(),
		ResourceOp: actor.Package == ResourcePackage,
		Royalty:    fn.Royalty,
	}
	if fn.Role == "" {
		return inv, nil
	}
	owner, err := roleOwner(load, actor)
	if err != nil {
		return nil, err
	}
	if !owner.IsZero() {
		raw, ok, err := load(owner, types.PartitionRoleAssignment, RoleKey(fn.Role))
		if err != nil {
			return nil, err
		}
		if ok {
			if inv.Rule, err = auth.DecodeRule(raw.Data); err != nil {
				return nil, err
			}
			return inv, nil
		}
	}
	if rule, ok := bp.Role(fn.Role); ok {
		inv.Rule = rule
	} else {
		inv.Rule = auth.DenyAll()
	}
	return inv, nil
}

// roleOwner finds the node whose role assignment governs actor: the global
// receiver itself, or the outer object of an internal receiver.
func roleOwner(load loader, actor kernel.Actor) (types.NodeID, error) {
	if actor.Receiver == nil {
		return types.NodeID{}, nil
	}
	receiver := *actor.Receiver
	if receiver.IsGlobal() {
		return receiver, nil
	}
	raw, ok, err := load(receiver, types.PartitionTypeInfo, kernel.TypeInfoKey)
	if err != nil || !ok {
		return types.NodeID{}, err
	}
	info, err := DecodeTypeInfo(raw.Data)
	if err != nil {
		return types.NodeID{}, err
	}
	return info.Outer, nil
}

type roleEntry struct {
	Name string
	Rule auth.AccessRule
}

// EncodeRoles serialises a role map for blueprint arguments.
func EncodeRoles(rules map[string]auth.AccessRule) ([]byte, error) {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)
	entries := make([]roleEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, roleEntry{Name: name, Rule: rules[name]})
	}
	return rlp.EncodeToBytes(entries)
}

// DecodeRoles parses EncodeRoles output. Empty input is an empty map.
func DecodeRoles(b []byte) (map[string]auth.AccessRule, error) {
	out := make(map[string]auth.AccessRule)
	if len(b) == 0 {
		return out, nil
	}
	var entries []roleEntry
	if err := rlp.DecodeBytes(b, &entries); err != nil {
		return nil, kerrors.Interpreter(kerrors.ErrMalformedInput, "roles: %v", err)
	}
	for _, e := range entries {
		out[e.Name] = e.Rule
	}
	return out, nil
}
