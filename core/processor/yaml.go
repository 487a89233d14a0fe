package processor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	kerrors "ledgerkernel/core/errors"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// WellKnown are the address aliases manifest files may use instead of hex.
var WellKnown = map[string]types.NodeID{
	"xrd":              system.FeeResource,
	"signature":        system.SignatureBadge,
	"package_package":  system.PackagePackage,
	"resource_package": system.ResourcePackage,
	"account_package":  system.AccountPackage,
	"worktop_package":  system.WorktopPackage,
}

type yamlTransaction struct {
	Nonce   uint64       `yaml:"nonce"`
	Intents []yamlIntent `yaml:"intents"`
}

type yamlIntent struct {
	Signers      []string          `yaml:"signers,omitempty"`
	Children     []uint32          `yaml:"children,omitempty"`
	Instructions []yamlInstruction `yaml:"instructions"`
}

type yamlInstruction struct {
	Op          string    `yaml:"op"`
	Address     string    `yaml:"address,omitempty"`
	Resource    string    `yaml:"resource,omitempty"`
	Blueprint   string    `yaml:"blueprint,omitempty"`
	Function    string    `yaml:"function,omitempty"`
	Amount      string    `yaml:"amount,omitempty"`
	IDs         []string  `yaml:"ids,omitempty"`
	Bucket      string    `yaml:"bucket,omitempty"`
	Proof       string    `yaml:"proof,omitempty"`
	Name        string    `yaml:"name,omitempty"`
	Entity      string    `yaml:"entity,omitempty"`
	Child       uint32    `yaml:"child,omitempty"`
	Code        string    `yaml:"code,omitempty"`
	Definition  string    `yaml:"definition,omitempty"`
	Owner       string    `yaml:"owner,omitempty"`
	Reservation string    `yaml:"reservation,omitempty"`
	Args        []yamlArg `yaml:"args,omitempty"`
}

// yamlArg sets exactly one field.
type yamlArg struct {
	Unit          bool      `yaml:"unit,omitempty"`
	Bool          *bool     `yaml:"bool,omitempty"`
	U64           *uint64   `yaml:"u64,omitempty"`
	Decimal       string    `yaml:"decimal,omitempty"`
	String        *string   `yaml:"string,omitempty"`
	Bytes         *string   `yaml:"bytes,omitempty"`
	Address       string    `yaml:"address,omitempty"`
	IDs           []string  `yaml:"ids,omitempty"`
	Bucket        string    `yaml:"bucket,omitempty"`
	Proof         string    `yaml:"proof,omitempty"`
	NamedAddress  string    `yaml:"named_address,omitempty"`
	EntireWorktop bool      `yaml:"entire_worktop,omitempty"`
	List          []yamlArg `yaml:"list,omitempty"`
}

// DecodeYAML parses the human-readable manifest format.
func DecodeYAML(raw []byte) (*Transaction, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var doc yamlTransaction
	if err := dec.Decode(&doc); err != nil {
		return nil, kerrors.Application(kerrors.ErrInvalidManifest, "yaml: %v", err)
	}
	tx := &Transaction{Nonce: doc.Nonce}
	for i, yi := range doc.Intents {
		intent, err := yi.convert()
		if err != nil {
			return nil, kerrors.Application(kerrors.ErrInvalidManifest, "intent %d: %v", i, err)
		}
		tx.Intents = append(tx.Intents, *intent)
	}
	return tx, nil
}

func (yi *yamlIntent) convert() (*Intent, error) {
	intent := &Intent{Children: yi.Children}
	for _, s := range yi.Signers {
		pub, err := parseHex(s)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", s, err)
		}
		intent.Signers = append(intent.Signers, pub)
	}
	for pc, y := range yi.Instructions {
		ins, err := y.convert()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", pc, err)
		}
		intent.Instructions = append(intent.Instructions, *ins)
	}
	return intent, nil
}

func (y *yamlInstruction) convert() (*Instruction, error) {
	op, err := ParseOp(y.Op)
	if err != nil {
		return nil, err
	}
	ins := &Instruction{
		Op:          op,
		Blueprint:   y.Blueprint,
		Function:    y.Function,
		Bucket:      y.Bucket,
		Proof:       y.Proof,
		Name:        y.Name,
		Child:       y.Child,
		Reservation: y.Reservation,
	}
	if ins.Address, err = parseAddress(y.Address); err != nil {
		return nil, err
	}
	if ins.Resource, err = parseAddress(y.Resource); err != nil {
		return nil, err
	}
	if y.Amount != "" {
		if ins.Amount, err = kresource.ParseDecimal(y.Amount); err != nil {
			return nil, err
		}
	}
	if y.IDs != nil {
		ins.IDs = parseIDs(y.IDs)
	}
	if y.Entity != "" {
		if ins.Entity, err = parseEntity(y.Entity); err != nil {
			return nil, err
		}
	}
	for _, field := range []struct {
		src string
		dst *[]byte
	}{{y.Code, &ins.Code}, {y.Definition, &ins.Definition}, {y.Owner, &ins.Owner}} {
		if field.src == "" {
			continue
		}
		if *field.dst, err = parseHex(field.src); err != nil {
			return nil, err
		}
	}
	for _, ya := range y.Args {
		a, err := ya.convert()
		if err != nil {
			return nil, err
		}
		ins.Args = append(ins.Args, a)
	}
	return ins, nil
}

func (y *yamlArg) convert() (Arg, error) {
	var (
		out Arg
		set int
		err error
	)
	pick := func(a Arg) {
		out = a
		set++
	}
	if y.Unit {
		pick(Value(vm.Unit()))
	}
	if y.Bool != nil {
		pick(Value(vm.Bool(*y.Bool)))
	}
	if y.U64 != nil {
		pick(Value(vm.U64(*y.U64)))
	}
	if y.Decimal != "" {
		d, perr := kresource.ParseDecimal(y.Decimal)
		if perr != nil {
			return Arg{}, perr
		}
		pick(Value(vm.Dec(d)))
	}
	if y.String != nil {
		pick(Value(vm.Str(*y.String)))
	}
	if y.Bytes != nil {
		b, perr := parseHex(*y.Bytes)
		if perr != nil {
			return Arg{}, perr
		}
		pick(Value(vm.Bytes(b)))
	}
	if y.Address != "" {
		id, perr := parseAddress(y.Address)
		if perr != nil {
			return Arg{}, perr
		}
		pick(Value(vm.Address(id)))
	}
	if y.IDs != nil {
		pick(Value(vm.IDs(parseIDs(y.IDs))))
	}
	if y.Bucket != "" {
		pick(NamedBucket(y.Bucket))
	}
	if y.Proof != "" {
		pick(NamedProof(y.Proof))
	}
	if y.NamedAddress != "" {
		pick(NamedAddress(y.NamedAddress))
	}
	if y.EntireWorktop {
		pick(EntireWorktop())
	}
	if y.List != nil {
		items := make([]Arg, 0, len(y.List))
		for _, item := range y.List {
			a, cerr := item.convert()
			if cerr != nil {
				return Arg{}, cerr
			}
			items = append(items, a)
		}
		pick(ListOf(items...))
	}
	if set != 1 {
		err = fmt.Errorf("argument must set exactly one field, got %d", set)
	}
	return out, err
}

func parseAddress(s string) (types.NodeID, error) {
	if s == "" {
		return types.NodeID{}, nil
	}
	if id, ok := WellKnown[s]; ok {
		return id, nil
	}
	return types.ParseNodeID(strings.TrimPrefix(s, "0x"))
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("hex %q: %w", s, err)
	}
	return b, nil
}

func parseIDs(ids []string) kresource.IDSet {
	out := make([]kresource.NonFungibleLocalID, 0, len(ids))
	for _, id := range ids {
		out = append(out, kresource.NonFungibleLocalID(id))
	}
	return kresource.NewIDSet(out...)
}

var globalEntities = []types.EntityType{
	types.EntityGlobalPackage,
	types.EntityGlobalFungibleResourceManager,
	types.EntityGlobalNonFungibleResourceManager,
	types.EntityGlobalAccount,
	types.EntityGlobalGenericComponent,
}

func parseEntity(name string) (types.EntityType, error) {
	for _, e := range globalEntities {
		if e.String() == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown global entity %q", name)
}
