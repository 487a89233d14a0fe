package vm

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/types"
)

// Runtime is the callback surface handed to blueprint code: the kernel API
// plus typed invocation helpers.
type Runtime interface {
	kernel.API
	CallMethod(receiver types.NodeID, method string, args ...Value) (Value, error)
	CallFunction(pkg types.NodeID, blueprint, function string, args ...Value) (Value, error)
}

// Executor turns package code into runnable instances.
type Executor interface {
	Instantiate(codeHash common.Hash, code []byte) (Instance, error)
}

// Instance runs the exports of one code blob. Input and output are encoded
// Values; input is always a list of arguments.
type Instance interface {
	InvokeExport(rt Runtime, export string, input []byte) ([]byte, error)
}

// CodeHash identifies package code.
func CodeHash(code []byte) common.Hash {
	return crypto.Keccak256Hash(code)
}

// Export is one precompiled blueprint function.
type Export func(rt Runtime, args Args) (Value, error)

// Program maps export names to functions.
type Program map[string]Export

// FuncExecutor runs packages whose code is a registered Go program. The code
// bytes only name the program; execution is deterministic Go.
type FuncExecutor struct {
	mu       sync.RWMutex
	programs map[common.Hash]Program
}

func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{programs: make(map[common.Hash]Program)}
}

// Register makes code runnable and returns its hash.
func (e *FuncExecutor) Register(code []byte, p Program) common.Hash {
	hash := CodeHash(code)
	e.mu.Lock()
	e.programs[hash] = p
	e.mu.Unlock()
	return hash
}

func (e *FuncExecutor) Instantiate(codeHash common.Hash, code []byte) (Instance, error) {
	if got := CodeHash(code); got != codeHash {
		return nil, kerrors.Interpreter(kerrors.ErrInstantiation, "code hash %s does not match %s", got.Hex(), codeHash.Hex())
	}
	e.mu.RLock()
	p, ok := e.programs[codeHash]
	e.mu.RUnlock()
	if !ok {
		return nil, kerrors.Interpreter(kerrors.ErrCodeNotFound, "%s", codeHash.Hex())
	}
	return funcInstance(p), nil
}

type funcInstance Program

func (p funcInstance) InvokeExport(rt Runtime, export string, input []byte) (out []byte, err error) {
	fn, ok := p[export]
	if !ok {
		return nil, kerrors.Interpreter(kerrors.ErrExportNotFound, "%s", export)
	}
	in, err := DecodeValue(input)
	if err != nil || in.Kind != KindList {
		return nil, kerrors.Interpreter(kerrors.ErrMalformedInput, "export %s: arguments must be a list", export)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, kerrors.Application(kerrors.ErrBlueprintPanic, "%s: %v", export, r)
		}
	}()
	result, err := fn(rt, Args(in.Items))
	if err != nil {
		return nil, err
	}
	return EncodeValue(result)
}

// CachingExecutor keeps recently used instances keyed by code hash.
type CachingExecutor struct {
	inner Executor
	cache *lru.Cache[common.Hash, Instance]
}

func NewCachingExecutor(inner Executor, size int) *CachingExecutor {
	if size <= 0 {
		size = 64
	}
	return &CachingExecutor{inner: inner, cache: lru.NewCache[common.Hash, Instance](size)}
}

func (c *CachingExecutor) Instantiate(codeHash common.Hash, code []byte) (Instance, error) {
	if inst, ok := c.cache.Get(codeHash); ok {
		return inst, nil
	}
	inst, err := c.inner.Instantiate(codeHash, code)
	if err != nil {
		return nil, err
	}
	c.cache.Add(codeHash, inst)
	return inst, nil
}

// Len reports the number of cached instances.
func (c *CachingExecutor) Len() int { return c.cache.Len() }
