package system

import (
	"fmt"

	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// Native implements every blueprint of one native package.
type Native func(env *Env, blueprint, function string, args vm.Args) (vm.Value, error)

// NativePackage is a package whose code is compiled into the engine. Genesis
// persists its definition at Address.
type NativePackage struct {
	Address    types.NodeID
	Name       string
	Definition PackageDefinition
	Handler    Native
}

// Registry holds the native packages known to an engine.
type Registry struct {
	natives map[string]*NativePackage
	order   []string
}

// NewRegistry returns a registry holding the package package itself.
func NewRegistry() *Registry {
	r := &Registry{natives: make(map[string]*NativePackage)}
	if err := r.Register(packageNative()); err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(p *NativePackage) error {
	if _, dup := r.natives[p.Name]; dup {
		return fmt.Errorf("system: native package %q already registered", p.Name)
	}
	if err := p.Definition.Validate(); err != nil {
		return fmt.Errorf("system: native package %q: %w", p.Name, err)
	}
	r.natives[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

func (r *Registry) Native(name string) (*NativePackage, bool) {
	p, ok := r.natives[name]
	return p, ok
}

// Packages lists native packages in registration order.
func (r *Registry) Packages() []*NativePackage {
	out := make([]*NativePackage, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.natives[name])
	}
	return out
}
