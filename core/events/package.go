package events

import (
	"strings"

	"ledgerkernel/core/types"
)

const (
	TypePackagePublished = "package.published"
	TypeAccountCreated   = "account.created"
)

type PackagePublished struct {
	Package    types.NodeID
	Blueprints []string
}

func (PackagePublished) EventType() string { return TypePackagePublished }

func (e PackagePublished) Event() *types.Event {
	return &types.Event{
		Type:    TypePackagePublished,
		Emitter: e.Package,
		Attributes: map[string]string{
			"package":    e.Package.String(),
			"blueprints": strings.Join(e.Blueprints, ","),
		},
	}
}

// AccountCreated is emitted when an account component is globalized.
type AccountCreated struct {
	Account types.NodeID
	Owner   string
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

func (e AccountCreated) Event() *types.Event {
	attrs := map[string]string{"account": e.Account.String()}
	setIfPresent(attrs, "owner", e.Owner)
	return &types.Event{Type: TypeAccountCreated, Emitter: e.Account, Attributes: attrs}
}
