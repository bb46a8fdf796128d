// Package exit models the unilateral-exit escape hatch (C13) invoked from
// the client engine's Exiting branch, per SPEC_FULL.md §4.3/§5. The real
// exit subsystem (on-chain unilateral-exit transaction construction) is an
// external collaborator outside this bridge's scope; this package only
// provides the narrow interface the engine calls through and a
// mutex-guarded reference implementation sufficient to drive tests.
package exit

import (
	"context"
	"sync"

	"github.com/arklabs/bridge/internal/vtxo"
)

// Subsystem is the interface the client engine's exit branch depends on.
// Implementations must serialize calls behind a single writer lock per
// spec.md §5 ("the exit subsystem is shared mutable state guarded by a
// single writer lock acquired only inside the exit branch").
type Subsystem interface {
	MarkVtxosForExit(ctx context.Context, vtxos []vtxo.Vtxo) error
}

// InMemory is a reference Subsystem implementation recording which vtxos
// were marked for exit, guarded by a single mutex as the spec requires.
type InMemory struct {
	mu     sync.Mutex
	marked []vtxo.Vtxo
}

func NewInMemory() *InMemory { return &InMemory{} }

func (e *InMemory) MarkVtxosForExit(_ context.Context, vtxos []vtxo.Vtxo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marked = append(e.marked, vtxos...)
	return nil
}

// Marked returns a copy of the vtxos marked for exit so far.
func (e *InMemory) Marked() []vtxo.Vtxo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]vtxo.Vtxo, len(e.marked))
	copy(out, e.marked)
	return out
}
