package processor

import (
	"log/slog"
	"slices"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/worktop"
)

// InstructionCost is charged before every instruction runs.
const InstructionCost = 50

// Output is the value one instruction produced.
type Output struct {
	Intent int
	Index  int
	Op     Op
	Value  vm.Value
}

// thread is the execution state of one intent on its own call stack.
type thread struct {
	index    int
	intent   *Intent
	stack    int
	parent   int
	children []int
	pc       int
	started  bool
	done     bool

	worktop   types.NodeID
	buckets   map[string]types.NodeID
	proofs    map[string]types.NodeID
	addresses map[string]types.NodeID
}

// Processor drives one transaction through a kernel. Intents run
// cooperatively: exactly one thread is active and control only changes
// hands at a yield instruction.
type Processor struct {
	k       *kernel.Kernel
	env     *system.Env
	logger  *slog.Logger
	threads []*thread
	current int
	outputs []Output
}

// New creates one call stack per intent. tx must already be validated.
func New(k *kernel.Kernel, sys *system.System, tx *Transaction, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{k: k, env: system.NewEnv(k, sys), logger: logger}
	for i := range tx.Intents {
		stack, err := k.AddStack(kernel.RootActor(i))
		if err != nil {
			return nil, err
		}
		p.threads = append(p.threads, &thread{
			index:     i,
			intent:    &tx.Intents[i],
			stack:     stack,
			parent:    -1,
			buckets:   make(map[string]types.NodeID),
			proofs:    make(map[string]types.NodeID),
			addresses: make(map[string]types.NodeID),
		})
	}
	for i, intent := range tx.Intents {
		for _, c := range intent.Children {
			p.threads[i].children = append(p.threads[i].children, int(c))
			p.threads[c].parent = i
		}
	}
	return p, nil
}

// Run executes the root intent to completion, following yields into child
// intents, and settles every call stack.
func (p *Processor) Run() ([]Output, error) {
	root := p.threads[0]
	if p.k.Stack() != root.stack {
		if err := p.k.SwitchStack(root.stack, nil); err != nil {
			return nil, err
		}
	}
	if err := p.start(root); err != nil {
		return nil, err
	}
	for {
		t := p.threads[p.current]
		if t.pc >= len(t.intent.Instructions) {
			break
		}
		ins := &t.intent.Instructions[t.pc]
		index := t.pc
		t.pc++
		if err := p.k.ConsumeCostUnits(InstructionCost, "instruction"); err != nil {
			return p.outputs, err
		}
		out, err := p.exec(t, ins)
		if err != nil {
			p.logger.Debug("instruction failed", "intent", t.index, "index", index, "instruction", ins.String(), "error", err)
			return p.outputs, err
		}
		p.outputs = append(p.outputs, Output{Intent: t.index, Index: index, Op: ins.Op, Value: out})
	}
	if p.current != 0 {
		return p.outputs, kerrors.Application(kerrors.ErrIntentNotYielded, "intent %d ran out of instructions", p.current)
	}
	if err := p.finish(root); err != nil {
		return p.outputs, err
	}
	for _, t := range p.threads[1:] {
		if !t.done {
			return p.outputs, kerrors.Application(kerrors.ErrIntentNotYielded, "intent %d never completed", t.index)
		}
	}
	return p.outputs, p.k.Finish()
}

// start creates the intent's worktop and grants its signers' virtual
// badges. It runs on the intent's own stack.
func (p *Processor) start(t *thread) error {
	id, err := worktop.New(p.env)
	if err != nil {
		return err
	}
	t.worktop = id
	t.started = true
	if len(t.intent.Signers) == 0 {
		return nil
	}
	zone := p.k.AuthZone()
	s, ok, err := p.k.PeekSubstate(zone, types.PartitionMain, kernel.MainKey)
	if err != nil || !ok {
		return kerrors.Kernel(kerrors.ErrNodeNotFound, "auth zone").WithNode(zone)
	}
	state, err := auth.DecodeZoneState(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(zone)
	}
	for _, pub := range t.intent.Signers {
		state.Virtual = append(state.Virtual, auth.ProofView{
			Resource: system.SignatureBadge,
			Amount:   kresource.NewDecimal(1),
			IDs:      kresource.NewIDSet(system.SignerID(pub)),
		})
	}
	raw, err := state.Encode()
	if err != nil {
		return err
	}
	s.Data = raw
	return p.k.PokeSubstate(zone, types.PartitionMain, kernel.MainKey, s)
}

// finish requires an empty worktop and drops it.
func (p *Processor) finish(t *thread) error {
	empty, err := p.env.CallMethod(t.worktop, "is_empty")
	if err != nil {
		return err
	}
	if empty.Num == 0 {
		return kerrors.Application(kerrors.ErrWorktopNotEmpty, "intent %d", t.index).WithNode(t.worktop)
	}
	if _, err := p.k.DropNode(t.worktop); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (p *Processor) exec(t *thread, ins *Instruction) (vm.Value, error) {
	switch ins.Op {
	case OpTakeAllFromWorktop:
		return p.bindBucket(t, ins.Name)(p.env.CallMethod(t.worktop, "take_all", vm.Address(ins.Resource)))
	case OpTakeFromWorktop:
		return p.bindBucket(t, ins.Name)(p.env.CallMethod(t.worktop, "take", vm.Address(ins.Resource), vm.Dec(ins.Amount)))
	case OpTakeNonFungiblesFromWorktop:
		return p.bindBucket(t, ins.Name)(p.env.CallMethod(t.worktop, "take_non_fungibles", vm.Address(ins.Resource), vm.IDs(ins.IDs)))
	case OpReturnToWorktop:
		bucket, err := p.takeBucket(t, ins.Bucket)
		if err != nil {
			return vm.Value{}, err
		}
		return p.env.CallMethod(t.worktop, "put", vm.Bucket(bucket))
	case OpAssertWorktopContains:
		return p.env.CallMethod(t.worktop, "assert_contains", vm.Address(ins.Resource), vm.Dec(ins.Amount))
	case OpAssertWorktopContainsAny:
		return p.env.CallMethod(t.worktop, "assert_contains_any", vm.Address(ins.Resource))
	case OpAssertWorktopContainsNonFungibles:
		return p.env.CallMethod(t.worktop, "assert_contains_non_fungibles", vm.Address(ins.Resource), vm.IDs(ins.IDs))
	case OpAssertWorktopIsEmpty:
		return p.env.CallMethod(t.worktop, "assert_is_empty")

	case OpPopFromAuthZone:
		return p.bindProof(t, ins.Name)(p.env.CallMethod(p.k.AuthZone(), "pop"))
	case OpPushToAuthZone:
		proof, err := p.takeProof(t, ins.Proof)
		if err != nil {
			return vm.Value{}, err
		}
		return p.env.CallMethod(p.k.AuthZone(), "push", vm.Proof(proof))
	case OpCreateProofFromAuthZoneOfAmount:
		return p.bindProof(t, ins.Name)(p.env.CallMethod(p.k.AuthZone(), "create_proof_of_amount", vm.Dec(ins.Amount), vm.Address(ins.Resource)))
	case OpCreateProofFromAuthZoneOfNonFungibles:
		return p.bindProof(t, ins.Name)(p.env.CallMethod(p.k.AuthZone(), "create_proof_of_non_fungibles", vm.IDs(ins.IDs), vm.Address(ins.Resource)))
	case OpCreateProofFromAuthZoneOfAll:
		return p.bindProof(t, ins.Name)(p.env.CallMethod(p.k.AuthZone(), "create_proof_of_all", vm.Address(ins.Resource)))
	case OpDropAuthZoneProofs:
		return p.env.CallMethod(p.k.AuthZone(), "drop_proofs")

	case OpCreateProofFromBucketOfAmount, OpCreateProofFromBucketOfNonFungibles, OpCreateProofFromBucketOfAll:
		bucket, ok := t.buckets[ins.Bucket]
		if !ok {
			return vm.Value{}, kerrors.Application(kerrors.ErrBucketNotFound, "%q", ins.Bucket)
		}
		switch ins.Op {
		case OpCreateProofFromBucketOfAmount:
			return p.bindProof(t, ins.Name)(p.env.CallMethod(bucket, "create_proof_of_amount", vm.Dec(ins.Amount)))
		case OpCreateProofFromBucketOfNonFungibles:
			return p.bindProof(t, ins.Name)(p.env.CallMethod(bucket, "create_proof_of_non_fungibles", vm.IDs(ins.IDs)))
		default:
			return p.bindProof(t, ins.Name)(p.env.CallMethod(bucket, "create_proof_of_all"))
		}
	case OpCloneProof:
		proof, ok := t.proofs[ins.Proof]
		if !ok {
			return vm.Value{}, kerrors.Application(kerrors.ErrProofNotFound, "%q", ins.Proof)
		}
		return p.bindProof(t, ins.Name)(p.env.CallMethod(proof, "clone"))
	case OpDropProof:
		proof, err := p.takeProof(t, ins.Proof)
		if err != nil {
			return vm.Value{}, err
		}
		return p.dropProof(proof)
	case OpDropAllProofs:
		names := make([]string, 0, len(t.proofs))
		for name := range t.proofs {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			proof, _ := p.takeProof(t, name)
			if _, err := p.dropProof(proof); err != nil {
				return vm.Value{}, err
			}
		}
		return p.env.CallMethod(p.k.AuthZone(), "drop_proofs")

	case OpBurnResource:
		bucket, err := p.takeBucket(t, ins.Bucket)
		if err != nil {
			return vm.Value{}, err
		}
		res, err := p.env.CallMethod(bucket, "resource_address")
		if err != nil {
			return vm.Value{}, err
		}
		return p.env.CallMethod(res.Node, "burn", vm.Bucket(bucket))

	case OpCallFunction, OpCallMethod:
		args, err := p.resolveArgs(t, ins.Args)
		if err != nil {
			return vm.Value{}, err
		}
		var out vm.Value
		if ins.Op == OpCallFunction {
			out, err = p.env.CallFunction(ins.Address, ins.Blueprint, ins.Function, args...)
		} else {
			out, err = p.env.CallMethod(ins.Address, ins.Function, args...)
		}
		if err != nil {
			return vm.Value{}, err
		}
		return out, p.absorb(t, out)
	case OpPublishPackage:
		reservation := types.NodeID{}
		if ins.Reservation != "" {
			var ok bool
			if reservation, ok = t.addresses[ins.Reservation]; !ok {
				return vm.Value{}, kerrors.System(kerrors.ErrReservationNotFound, "%q", ins.Reservation)
			}
		}
		return p.env.CallFunction(system.PackagePackage, system.BlueprintPackage, "publish",
			vm.Bytes(ins.Code), vm.Bytes(ins.Definition), vm.Bytes(ins.Owner), system.ReservationArg(reservation))
	case OpAllocateGlobalAddress:
		if _, dup := t.addresses[ins.Name]; dup {
			return vm.Value{}, kerrors.Application(kerrors.ErrInvalidManifest, "address %q bound twice", ins.Name)
		}
		id, err := p.k.AllocateNodeID(ins.Entity)
		if err != nil {
			return vm.Value{}, err
		}
		t.addresses[ins.Name] = id
		return vm.Bytes(id.Bytes()), nil

	case OpYieldToChild:
		if int(ins.Child) >= len(t.children) {
			return vm.Value{}, kerrors.Application(kerrors.ErrIntentNotFound, "child %d", ins.Child)
		}
		child := p.threads[t.children[ins.Child]]
		if child.done {
			return vm.Value{}, kerrors.Application(kerrors.ErrIntentAlreadyFinished, "intent %d", child.index)
		}
		args, err := p.resolveArgs(t, ins.Args)
		if err != nil {
			return vm.Value{}, err
		}
		return p.yield(child, args)
	case OpYieldToParent:
		if t.parent < 0 {
			return vm.Value{}, kerrors.Application(kerrors.ErrYieldFromRoot, "intent %d", t.index)
		}
		args, err := p.resolveArgs(t, ins.Args)
		if err != nil {
			return vm.Value{}, err
		}
		if t.pc == len(t.intent.Instructions) {
			if err := p.finish(t); err != nil {
				return vm.Value{}, err
			}
		}
		return p.yield(p.threads[t.parent], args)
	}
	return vm.Value{}, kerrors.Application(kerrors.ErrInvalidManifest, "unknown op %d", ins.Op)
}

// yield switches to another intent's stack, carrying the buckets in args
// onto its worktop.
func (p *Processor) yield(to *thread, args []vm.Value) (vm.Value, error) {
	value := vm.List(args...)
	nodes := value.Nodes()
	for _, id := range nodes {
		if id.EntityType() != types.EntityInternalBucket {
			return vm.Value{}, kerrors.Kernel(kerrors.ErrNodeMoveNotAllowed, "only buckets cross intents").WithNode(id)
		}
	}
	if err := p.k.SwitchStack(to.stack, nodes); err != nil {
		return vm.Value{}, err
	}
	p.current = to.index
	if !to.started {
		if err := p.start(to); err != nil {
			return vm.Value{}, err
		}
	}
	for _, id := range nodes {
		if _, err := p.env.CallMethod(to.worktop, "put", vm.Bucket(id)); err != nil {
			return vm.Value{}, err
		}
	}
	return value, nil
}

// absorb puts returned buckets on the worktop and pushes returned proofs
// onto the auth zone.
func (p *Processor) absorb(t *thread, out vm.Value) error {
	for _, id := range out.Nodes() {
		var err error
		switch id.EntityType() {
		case types.EntityInternalBucket:
			_, err = p.env.CallMethod(t.worktop, "put", vm.Bucket(id))
		case types.EntityInternalProof:
			_, err = p.env.CallMethod(p.k.AuthZone(), "push", vm.Proof(id))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) dropProof(proof types.NodeID) (vm.Value, error) {
	return p.env.CallFunction(system.ResourcePackage, system.BlueprintProof, "drop", vm.Proof(proof))
}

func (p *Processor) resolveArgs(t *thread, args []Arg) ([]vm.Value, error) {
	out := make([]vm.Value, 0, len(args))
	for _, a := range args {
		v, err := p.resolve(t, a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Processor) resolve(t *thread, a Arg) (vm.Value, error) {
	switch a.Kind {
	case ArgValue:
		return a.Value, nil
	case ArgBucket:
		id, err := p.takeBucket(t, a.Name)
		return vm.Bucket(id), err
	case ArgProof:
		id, err := p.takeProof(t, a.Name)
		return vm.Proof(id), err
	case ArgNamedAddress:
		id, ok := t.addresses[a.Name]
		if !ok {
			return vm.Value{}, kerrors.System(kerrors.ErrReservationNotFound, "%q", a.Name)
		}
		exists, err := p.k.NodeExists(id)
		if err != nil {
			return vm.Value{}, err
		}
		if exists {
			return vm.Address(id), nil
		}
		return system.ReservationArg(id), nil
	case ArgEntireWorktop:
		return p.env.CallMethod(t.worktop, "drain")
	case ArgList:
		items, err := p.resolveArgs(t, a.Items)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.List(items...), nil
	}
	return vm.Value{}, kerrors.Application(kerrors.ErrInvalidManifest, "unknown argument kind %d", a.Kind)
}

func (p *Processor) takeBucket(t *thread, name string) (types.NodeID, error) {
	id, ok := t.buckets[name]
	if !ok {
		return types.NodeID{}, kerrors.Application(kerrors.ErrBucketNotFound, "%q", name)
	}
	delete(t.buckets, name)
	return id, nil
}

func (p *Processor) takeProof(t *thread, name string) (types.NodeID, error) {
	id, ok := t.proofs[name]
	if !ok {
		return types.NodeID{}, kerrors.Application(kerrors.ErrProofNotFound, "%q", name)
	}
	delete(t.proofs, name)
	return id, nil
}

// bindBucket and bindProof record the node a call returned under name.
func (p *Processor) bindBucket(t *thread, name string) func(vm.Value, error) (vm.Value, error) {
	return func(v vm.Value, err error) (vm.Value, error) {
		if err != nil {
			return vm.Value{}, err
		}
		if _, dup := t.buckets[name]; dup {
			return vm.Value{}, kerrors.Application(kerrors.ErrInvalidManifest, "bucket %q bound twice", name)
		}
		t.buckets[name] = v.Node
		return v, nil
	}
}

func (p *Processor) bindProof(t *thread, name string) func(vm.Value, error) (vm.Value, error) {
	return func(v vm.Value, err error) (vm.Value, error) {
		if err != nil {
			return vm.Value{}, err
		}
		if _, dup := t.proofs[name]; dup {
			return vm.Value{}, kerrors.Application(kerrors.ErrInvalidManifest, "proof %q bound twice", name)
		}
		t.proofs[name] = v.Node
		return v, nil
	}
}
