package modules

import "ledgerkernel/core/kernel"

// openCall is an invocation that has started and not yet returned.
type openCall[T any] struct {
	depth int
	actor kernel.Actor
	value T
}

// callTracker pairs invoke start and end events per call stack. A failed
// call never produces an end event; it is reported as failed once a later
// event shows its frame is gone.
type callTracker[T any] struct {
	stacks map[int][]openCall[T]
}

func newCallTracker[T any]() *callTracker[T] {
	return &callTracker[T]{stacks: make(map[int][]openCall[T])}
}

// start records a call made from depth. Calls still open at that depth or
// deeper have failed and are handed to failed first.
func (t *callTracker[T]) start(stack, depth int, actor kernel.Actor, value T, failed func(openCall[T])) {
	t.unwind(stack, depth, failed)
	t.stacks[stack] = append(t.stacks[stack], openCall[T]{depth: depth, actor: actor, value: value})
}

// end closes the call made from depth. Deeper calls still open have failed.
func (t *callTracker[T]) end(stack, depth int, failed func(openCall[T])) (openCall[T], bool) {
	t.unwind(stack, depth+1, failed)
	calls := t.stacks[stack]
	if len(calls) == 0 || calls[len(calls)-1].depth != depth {
		return openCall[T]{}, false
	}
	top := calls[len(calls)-1]
	t.stacks[stack] = calls[:len(calls)-1]
	return top, true
}

func (t *callTracker[T]) unwind(stack, depth int, failed func(openCall[T])) {
	calls := t.stacks[stack]
	for len(calls) > 0 && calls[len(calls)-1].depth >= depth {
		failed(calls[len(calls)-1])
		calls = calls[:len(calls)-1]
	}
	t.stacks[stack] = calls
}

// drain fails every call still open on any stack.
func (t *callTracker[T]) drain(failed func(openCall[T])) {
	for stack := range t.stacks {
		t.unwind(stack, 0, failed)
	}
}

// top returns the innermost open call of stack.
func (t *callTracker[T]) top(stack int) (openCall[T], bool) {
	calls := t.stacks[stack]
	if len(calls) == 0 {
		return openCall[T]{}, false
	}
	return calls[len(calls)-1], true
}
