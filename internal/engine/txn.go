package engine

import "SynthEngine/internal/event"

// txn is the undo log for one mutating operation. Every ledger write and
// reversible external call registers its inverse; on any failure the
// inverses run in reverse order, restoring the state before the call.
// Audit records are buffered and only released at commit, so aborted
// operations leave no trace.
type txn struct {
	undo   []func()
	events []pendingEvent
}

type pendingEvent struct {
	kind    event.Kind
	payload interface{}
}

func newTxn() *txn {
	return &txn{}
}

// onRollback registers an inverse for a step that has already been applied.
func (t *txn) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// emit buffers an audit record for release at commit.
func (t *txn) emit(kind event.Kind, payload interface{}) {
	t.events = append(t.events, pendingEvent{kind: kind, payload: payload})
}

// rollback unwinds all applied steps, most recent first.
func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.events = nil
}
