package system

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// Well-known addresses created at genesis.
var (
	PackagePackage  = types.NewNodeID(types.EntityGlobalPackage, []byte("package"))
	ResourcePackage = types.NewNodeID(types.EntityGlobalPackage, []byte("resource"))
	AccountPackage  = types.NewNodeID(types.EntityGlobalPackage, []byte("account"))
	WorktopPackage  = types.NewNodeID(types.EntityGlobalPackage, []byte("worktop"))

	// FeeResource is the fungible resource fees and royalties are paid in.
	FeeResource = types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("xrd"))
	// SignatureBadge is the non-fungible resource whose virtual proofs stand
	// for transaction signers.
	SignatureBadge = types.NewNodeID(types.EntityGlobalNonFungibleResourceManager, []byte("signature"))
)

// Blueprint names of the native packages.
const (
	BlueprintPackage                    = "Package"
	BlueprintFungibleResourceManager    = "FungibleResourceManager"
	BlueprintNonFungibleResourceManager = "NonFungibleResourceManager"
	BlueprintBucket                     = "Bucket"
	BlueprintVault                      = "Vault"
	BlueprintProof                      = "Proof"
	BlueprintAuthZone                   = "AuthZone"
	BlueprintAccount                    = "Account"
	BlueprintWorktop                    = "Worktop"
)

// SignerID is the signature badge id of a public key.
func SignerID(pubkey []byte) resource.NonFungibleLocalID {
	h := crypto.Keccak256(pubkey)
	return resource.NonFungibleLocalID("[" + hex.EncodeToString(h[12:]) + "]")
}
