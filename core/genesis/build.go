package genesis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"ledgerkernel/core/auth"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/native/account"
	"ledgerkernel/native/resource"
	"ledgerkernel/native/worktop"
)

// FeeVault is the vault genesis creates inside the account of pubkey.
func FeeVault(pubkey []byte) types.NodeID {
	h := crypto.Keccak256([]byte("fee-vault"), pubkey)
	return types.NewNodeID(types.EntityInternalFungibleVault, h[len(h)-types.NodeIDLength+1:])
}

// Build writes the genesis state into track: the native packages, the fee
// resource, the signature badge resource and one funded account per
// allocation. It returns the account addresses in allocation order.
func Build(track kernel.Track, registry *system.Registry, spec *GenesisSpec) ([]types.NodeID, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec: %w", err)
	}
	if err := system.InstallNatives(track, registry); err != nil {
		return nil, fmt.Errorf("install native packages: %w", err)
	}

	// 1) Resources
	supply := kresource.Decimal{}
	for _, alloc := range spec.Accounts() {
		supply = supply.Add(alloc.Amount)
	}
	fixed := map[string]auth.AccessRule{system.RoleMinter: auth.DenyAll(), system.RoleBurner: auth.DenyAll()}
	fee, err := resource.ManagerSubstates(kresource.Fungible, kresource.MaxDivisibility, spec.FeeToken.Symbol, supply, fixed)
	if err != nil {
		return nil, fmt.Errorf("fee resource: %w", err)
	}
	if err := system.WriteNode(track, system.FeeResource, fee); err != nil {
		return nil, err
	}
	badge, err := resource.ManagerSubstates(kresource.NonFungible, 0, "SIG", kresource.Decimal{}, fixed)
	if err != nil {
		return nil, fmt.Errorf("signature badge: %w", err)
	}
	if err := system.WriteNode(track, system.SignatureBadge, badge); err != nil {
		return nil, err
	}

	// 2) Accounts (sorted by public key)
	addresses := make([]types.NodeID, 0, len(spec.Accounts()))
	for _, alloc := range spec.Accounts() {
		vault := FeeVault(alloc.PublicKey)
		vaultState, err := resource.FungibleVaultSubstates(system.FeeResource, kresource.MaxDivisibility, alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("vault for %x: %w", alloc.PublicKey, err)
		}
		if err := system.WriteNode(track, vault, vaultState); err != nil {
			return nil, err
		}
		acct := account.Address(alloc.PublicKey)
		acctState, err := account.InitialSubstates(account.OwnerRule(alloc.PublicKey), map[types.NodeID]types.NodeID{system.FeeResource: vault})
		if err != nil {
			return nil, fmt.Errorf("account for %x: %w", alloc.PublicKey, err)
		}
		if err := system.WriteNode(track, acct, acctState); err != nil {
			return nil, err
		}
		addresses = append(addresses, acct)
	}
	return addresses, nil
}

// NewRegistry registers every native package.
func NewRegistry() (*system.Registry, error) {
	registry := system.NewRegistry()
	for _, pkg := range []*system.NativePackage{resource.Package(), account.Package(), worktop.Package()} {
		if err := registry.Register(pkg); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
