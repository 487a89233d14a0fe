package system

import (
	"slices"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// entityRule names the package and blueprints that nodes of an entity type
// must be created with. Entity types without a rule are open to every
// package.
type entityRule struct {
	pkg        types.NodeID
	blueprints []string
}

var entityRules = map[types.EntityType]entityRule{
	types.EntityGlobalPackage:                    {PackagePackage, []string{BlueprintPackage}},
	types.EntityGlobalFungibleResourceManager:    {ResourcePackage, []string{BlueprintFungibleResourceManager}},
	types.EntityGlobalNonFungibleResourceManager: {ResourcePackage, []string{BlueprintNonFungibleResourceManager}},
	// Virtual badges only ever appear as proofs.
	types.EntityGlobalVirtualSignatureBadge: {ResourcePackage, nil},
	types.EntityGlobalAccount:               {AccountPackage, []string{BlueprintAccount}},
	types.EntityInternalFungibleVault:       {ResourcePackage, []string{BlueprintVault}},
	types.EntityInternalNonFungibleVault:    {ResourcePackage, []string{BlueprintVault}},
	types.EntityInternalBucket:              {ResourcePackage, []string{BlueprintBucket}},
	types.EntityInternalProof:               {ResourcePackage, []string{BlueprintProof}},
	types.EntityInternalWorktop:             {WorktopPackage, []string{BlueprintWorktop}},
	types.EntityInternalAuthZone:            {ResourcePackage, []string{BlueprintAuthZone}},
}

// guard is the kernel API handed to blueprint code. A package may only lock
// mutably or drop nodes whose type info names it, and every node it creates
// must carry type info naming it. Vaults are the one exception: any package
// may create one for itself, provided it starts empty.
type guard struct {
	kernel.API
	sys *System
}

func (g *guard) AllocateNodeID(entity types.EntityType) (types.NodeID, error) {
	if rule, ok := entityRules[entity]; ok && !entity.IsVault() {
		if actor := g.Actor(); rule.pkg != actor.Package {
			return types.NodeID{}, kerrors.System(kerrors.ErrEntityNotPermitted, "allocate %s", entity).WithActor(actor.String())
		}
	}
	return g.API.AllocateNodeID(entity)
}

func (g *guard) CreateNode(id types.NodeID, substates kernel.NodeSubstates) error {
	s, ok := substates.Get(types.PartitionTypeInfo, kernel.TypeInfoKey)
	if !ok {
		return kerrors.System(kerrors.ErrInvalidTypeInfo, "create without type info").WithNode(id)
	}
	info, err := DecodeTypeInfo(s.Data)
	if err != nil {
		return err
	}
	if err := g.checkCreate(id, info, substates); err != nil {
		return err
	}
	if err := g.API.CreateNode(id, substates); err != nil {
		return err
	}
	g.sys.owners[id] = info.Package
	return nil
}

func (g *guard) checkCreate(id types.NodeID, info *TypeInfo, substates kernel.NodeSubstates) error {
	actor := g.Actor()
	entity := id.EntityType()
	if rule, ok := entityRules[entity]; ok {
		if info.Package != rule.pkg || !slices.Contains(rule.blueprints, info.Blueprint) {
			return kerrors.System(kerrors.ErrEntityNotPermitted, "%s as %s", entity, info.Blueprint).WithNode(id).WithActor(actor.String())
		}
		if entity.IsVault() && actor.Package != ResourcePackage {
			return checkEmptyVault(id, info, substates)
		}
	}
	if info.Package != actor.Package {
		return kerrors.System(kerrors.ErrForeignNode, "create for %s", info.Package.Short()).WithNode(id).WithActor(actor.String())
	}
	return nil
}

// checkEmptyVault admits a vault created outside the resource package: it
// holds nothing and its container is of the resource its type info names.
func checkEmptyVault(id types.NodeID, info *TypeInfo, substates kernel.NodeSubstates) error {
	s, _ := substates.Get(types.PartitionMain, kernel.MainKey)
	c, err := resource.DecodeContainer(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "vault: %v", err).WithNode(id)
	}
	kind := resource.Fungible
	if id.EntityType() == types.EntityInternalNonFungibleVault {
		kind = resource.NonFungible
	}
	switch {
	case len(substates) != 2 || len(substates[types.PartitionMain]) != 1 || len(s.Owns) > 0:
		return kerrors.System(kerrors.ErrEntityNotPermitted, "vault with extra substates").WithNode(id)
	case c.Resource != info.Outer || c.Kind != kind:
		return kerrors.System(kerrors.ErrEntityNotPermitted, "vault of %s holds %s", info.Outer.Short(), c.Resource.Short()).WithNode(id)
	case !c.IsEmpty() || c.IsLocked():
		return kerrors.System(kerrors.ErrEntityNotPermitted, "vault must start empty").WithNode(id)
	}
	return nil
}

func (g *guard) DropNode(id types.NodeID) (kernel.NodeSubstates, error) {
	if err := g.requireOwner(id, "drop"); err != nil {
		return nil, err
	}
	substates, err := g.API.DropNode(id)
	if err != nil {
		return nil, err
	}
	delete(g.sys.owners, id)
	return substates, nil
}

func (g *guard) LockSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, flags kernel.LockFlags) (kernel.LockHandle, error) {
	if flags.Mutable() {
		if err := g.requireOwner(node, "lock"); err != nil {
			return 0, err
		}
	}
	return g.API.LockSubstate(node, partition, key, flags)
}

func (g *guard) requireOwner(node types.NodeID, op string) error {
	pkg, err := g.owner(node)
	if err != nil {
		return err
	}
	if actor := g.Actor(); pkg != actor.Package {
		return kerrors.System(kerrors.ErrForeignNode, "%s node of %s", op, pkg.Short()).WithNode(node).WithActor(actor.String())
	}
	return nil
}

// owner returns the package named by a node's type info. Type info never
// changes after creation, so answers are kept for the transaction.
func (g *guard) owner(node types.NodeID) (types.NodeID, error) {
	if pkg, ok := g.sys.owners[node]; ok {
		return pkg, nil
	}
	h, err := g.API.LockSubstate(node, types.PartitionTypeInfo, kernel.TypeInfoKey, kernel.LockRead)
	if err != nil {
		return types.NodeID{}, err
	}
	s, err := g.API.ReadSubstate(h)
	if cerr := g.API.CloseLock(h); err == nil {
		err = cerr
	}
	if err != nil {
		return types.NodeID{}, err
	}
	info, err := DecodeTypeInfo(s.Data)
	if err != nil {
		return types.NodeID{}, err
	}
	g.sys.owners[node] = info.Package
	return info.Package, nil
}

var _ kernel.API = (*guard)(nil)
