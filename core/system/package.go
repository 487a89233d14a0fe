package system

import (
	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// RoyaltyKey holds the royalty a package has accrued.
var RoyaltyKey = types.FieldKey(0)

func packageNative() *NativePackage {
	return &NativePackage{
		Address: PackagePackage,
		Name:    "package",
		Definition: PackageDefinition{Blueprints: []BlueprintDef{{
			Name: BlueprintPackage,
			Functions: []FunctionDef{
				// publish(code, definition, owner rule, reservation)
				Function("publish", vm.KindAddress, vm.KindBytes, vm.KindBytes, vm.KindBytes, vm.KindBytes),
				Method("royalty_balance", vm.KindDecimal),
			},
		}}},
		Handler: packageHandler,
	}
}

func packageHandler(env *Env, _ string, function string, args vm.Args) (vm.Value, error) {
	switch function {
	case "publish":
		code, err := args.Bytes(0)
		if err != nil {
			return vm.Value{}, err
		}
		rawDef, err := args.Bytes(1)
		if err != nil {
			return vm.Value{}, err
		}
		rawOwner, err := args.Bytes(2)
		if err != nil {
			return vm.Value{}, err
		}
		reservation, err := ParseReservation(args, 3)
		if err != nil {
			return vm.Value{}, err
		}
		def, err := DecodeDefinition(rawDef)
		if err != nil {
			return vm.Value{}, err
		}
		owner := auth.DenyAll()
		if len(rawOwner) > 0 {
			if owner, err = auth.DecodeRule(rawOwner); err != nil {
				return vm.Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "owner rule: %v", err)
			}
		}
		addr, err := Publish(env, reservation, def, PackageCode{Kind: CodeExternal, Hash: vm.CodeHash(code)}, code, owner)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.Address(addr), nil
	case "royalty_balance":
		receiver, err := env.Receiver()
		if err != nil {
			return vm.Value{}, err
		}
		s, err := env.Read(receiver, types.PartitionRoyalty, RoyaltyKey)
		if err != nil {
			return vm.Value{}, err
		}
		amount, err := DecodeRoyalty(s.Data)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.Dec(amount), nil
	}
	return vm.Value{}, kerrors.Application(kerrors.ErrUnknownMethod, "%s", function)
}

// ParseReservation reads an optional address reservation passed as raw id
// bytes. Reserved ids are not yet visible nodes, so they cannot travel as
// addresses.
func ParseReservation(args vm.Args, i int) (types.NodeID, error) {
	raw, err := args.Bytes(i)
	if err != nil || len(raw) == 0 {
		return types.NodeID{}, err
	}
	id, err := types.NodeIDFromBytes(raw)
	if err != nil {
		return types.NodeID{}, kerrors.System(kerrors.ErrReservationNotFound, "%v", err)
	}
	return id, nil
}

// ReservationArg is the argument form of an address reservation.
func ReservationArg(id types.NodeID) vm.Value {
	if id.IsZero() {
		return vm.Bytes(nil)
	}
	return vm.Bytes(id.Bytes())
}

// Publish creates and globalizes a package node.
func Publish(env *Env, reservation types.NodeID, def *PackageDefinition, code PackageCode, raw []byte, owner auth.AccessRule) (types.NodeID, error) {
	if err := def.Validate(); err != nil {
		return types.NodeID{}, err
	}
	state, err := (&PackageState{Definition: *def, Code: code}).Encode()
	if err != nil {
		return types.NodeID{}, err
	}
	royalty, err := EncodeRoyalty(resource.Decimal{})
	if err != nil {
		return types.NodeID{}, err
	}
	roles, err := RoleAssignment(map[string]auth.AccessRule{RoleOwner: owner})
	if err != nil {
		return types.NodeID{}, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(state))
	substates.Set(types.PartitionRoyalty, RoyaltyKey, types.NewSubstate(royalty))
	if len(raw) > 0 {
		substates.Set(types.PartitionPackageCode, kernel.MainKey, types.NewSubstate(raw))
	}
	substates[types.PartitionRoleAssignment] = roles

	id, err := env.NewObject(reservation, types.EntityGlobalPackage, BlueprintPackage, types.NodeID{}, substates)
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.Globalize(id); err != nil {
		return types.NodeID{}, err
	}
	names := make([]string, 0, len(def.Blueprints))
	for _, bp := range def.Blueprints {
		names = append(names, bp.Name)
	}
	if err := env.EmitEvent(events.PackagePublished{Package: id, Blueprints: names}.Event()); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

func EncodeRoyalty(amount resource.Decimal) ([]byte, error) { return rlp.EncodeToBytes(amount) }

func DecodeRoyalty(b []byte) (resource.Decimal, error) {
	var d resource.Decimal
	if err := rlp.DecodeBytes(b, &d); err != nil {
		return resource.Decimal{}, kerrors.System(kerrors.ErrTypeMismatch, "royalty: %v", err)
	}
	return d, nil
}
