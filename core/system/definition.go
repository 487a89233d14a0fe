package system

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// CodeKind selects how a package's blueprints run.
type CodeKind uint8

const (
	CodeNative CodeKind = iota
	CodeExternal
)

// PackageCode is the tagged union behind every package: a native
// implementation looked up by name, or external code run by the executor.
type PackageCode struct {
	Kind   CodeKind
	Native string
	Hash   common.Hash
}

// FunctionDef declares one blueprint function or method. An empty Role means
// anyone may call it.
type FunctionDef struct {
	Name    string
	Method  bool
	Inputs  []vm.Kind
	Output  vm.Kind
	Role    string
	Royalty resource.Decimal
}

// RoleDef is a blueprint-level default for a role. Components may override
// it in their role assignment partition.
type RoleDef struct {
	Name string
	Rule auth.AccessRule
}

type BlueprintDef struct {
	Name      string
	Functions []FunctionDef
	Roles     []RoleDef
}

func (b *BlueprintDef) Function(name string) (FunctionDef, bool) {
	for _, fn := range b.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionDef{}, false
}

func (b *BlueprintDef) Role(name string) (auth.AccessRule, bool) {
	for _, r := range b.Roles {
		if r.Name == name {
			return r.Rule, true
		}
	}
	return auth.AccessRule{}, false
}

type PackageDefinition struct {
	Blueprints []BlueprintDef
}

func (d *PackageDefinition) Blueprint(name string) (*BlueprintDef, bool) {
	for i := range d.Blueprints {
		if d.Blueprints[i].Name == name {
			return &d.Blueprints[i], true
		}
	}
	return nil, false
}

// Validate rejects duplicate names, unknown kinds and negative royalties.
func (d *PackageDefinition) Validate() error {
	if len(d.Blueprints) == 0 {
		return kerrors.System(kerrors.ErrInvalidPackage, "no blueprints")
	}
	blueprints := make(map[string]struct{})
	for _, bp := range d.Blueprints {
		if bp.Name == "" {
			return kerrors.System(kerrors.ErrInvalidPackage, "blueprint without a name")
		}
		if _, dup := blueprints[bp.Name]; dup {
			return kerrors.System(kerrors.ErrInvalidPackage, "duplicate blueprint %s", bp.Name)
		}
		blueprints[bp.Name] = struct{}{}
		functions := make(map[string]struct{})
		for _, fn := range bp.Functions {
			if _, dup := functions[fn.Name]; dup || fn.Name == "" {
				return kerrors.System(kerrors.ErrInvalidPackage, "%s: bad function name %q", bp.Name, fn.Name)
			}
			functions[fn.Name] = struct{}{}
			if fn.Royalty.IsNegative() {
				return kerrors.System(kerrors.ErrInvalidPackage, "%s::%s: negative royalty", bp.Name, fn.Name)
			}
			for _, k := range append(append([]vm.Kind(nil), fn.Inputs...), fn.Output) {
				if !k.Valid() {
					return kerrors.System(kerrors.ErrInvalidPackage, "%s::%s: unknown kind %d", bp.Name, fn.Name, k)
				}
			}
		}
	}
	return nil
}

// Method and Function build definitions of public entry points; use
// WithRole and WithRoyalty to restrict or price them.
func Method(name string, output vm.Kind, inputs ...vm.Kind) FunctionDef {
	return FunctionDef{Name: name, Method: true, Inputs: inputs, Output: output}
}

func Function(name string, output vm.Kind, inputs ...vm.Kind) FunctionDef {
	return FunctionDef{Name: name, Inputs: inputs, Output: output}
}

func (f FunctionDef) WithRole(role string) FunctionDef {
	f.Role = role
	return f
}

func (f FunctionDef) WithRoyalty(amount resource.Decimal) FunctionDef {
	f.Royalty = amount
	return f
}

// PackageState is the main field of a package node.
type PackageState struct {
	Definition PackageDefinition
	Code       PackageCode
}

func (p *PackageState) Encode() ([]byte, error) { return rlp.EncodeToBytes(p) }

func DecodePackageState(b []byte) (*PackageState, error) {
	var p PackageState
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, fmt.Errorf("decode package: %w", err)
	}
	return &p, nil
}

func EncodeDefinition(d *PackageDefinition) ([]byte, error) { return rlp.EncodeToBytes(d) }

func DecodeDefinition(b []byte) (*PackageDefinition, error) {
	var d PackageDefinition
	if err := rlp.DecodeBytes(b, &d); err != nil {
		return nil, kerrors.System(kerrors.ErrInvalidPackage, "decode definition: %v", err)
	}
	return &d, nil
}

// TypeInfo is kept under the type info key of every object node. Outer is
// the resource manager of buckets, vaults and proofs, whose roles govern
// them.
type TypeInfo struct {
	Package   types.NodeID
	Blueprint string
	Outer     types.NodeID
}

func (t *TypeInfo) Encode() ([]byte, error) { return rlp.EncodeToBytes(t) }

func DecodeTypeInfo(b []byte) (*TypeInfo, error) {
	var t TypeInfo
	if err := rlp.DecodeBytes(b, &t); err != nil {
		return nil, kerrors.System(kerrors.ErrInvalidTypeInfo, "%v", err)
	}
	return &t, nil
}
