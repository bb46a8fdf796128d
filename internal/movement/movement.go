// Package movement models the external movement ledger collaborator
// (C11): an append-only accounting log the core updates but does not
// own, per spec.md §3/§1 ("the generic 'movement' ledger (treated as an
// append-only side-effect log)"). Only the narrow surface this bridge
// calls is modeled here; the ledger's own schema and durability live
// outside this repo's scope.
package movement

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/arklabs/bridge/internal/vtxo"
)

// Status is the terminal state a movement is finalized with.
type Status int

const (
	StatusFinished Status = iota
	StatusFailed
)

// Destination is one payout target recorded on a movement.
type Destination struct {
	Address string
	Amount  btcutil.Amount
}

// Update is an incremental set of fields applied to a movement, mirroring
// the original's builder-style MovementUpdate.
type Update struct {
	IntendedBalance  *btcutil.Amount
	EffectiveBalance *btcutil.Amount
	ConsumedVtxos    []vtxo.Vtxo
	ProducedVtxos    []vtxo.Vtxo
	ExitedVtxos      []vtxo.Vtxo
	SentTo           []Destination
	Metadata         map[string]string
}

// Ledger is the interface the client payment engine needs from the
// external movement subsystem.
type Ledger interface {
	NewMovement(ctx context.Context, subsystem, kind string) (movementID int64, err error)
	UpdateMovement(ctx context.Context, movementID int64, update Update) error
	FinishMovement(ctx context.Context, movementID int64, status Status) error
}

// InMemory is a test/reference Ledger implementation; production
// deployments wire a real ledger owned outside this repo.
type InMemory struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*entry
}

type entry struct {
	subsystem, kind string
	updates         []Update
	status          *Status
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[int64]*entry)}
}

func (m *InMemory) NewMovement(_ context.Context, subsystem, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries[m.nextID] = &entry{subsystem: subsystem, kind: kind}
	return m.nextID, nil
}

func (m *InMemory) UpdateMovement(_ context.Context, id int64, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return errMovementNotFound(id)
	}
	e.updates = append(e.updates, update)
	return nil
}

func (m *InMemory) FinishMovement(_ context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return errMovementNotFound(id)
	}
	e.status = &status
	return nil
}

// Entry exposes the recorded state of a movement, for tests to assert
// against.
func (m *InMemory) Entry(id int64) (updates []Update, status *Status, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.updates, e.status, true
}

type errMovementNotFound int64

func (e errMovementNotFound) Error() string {
	return "movement: no movement with id tracked"
}
