package migrate

import (
	"errors"
	"sync"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

var (
	errSlotMigrateDisabled = errors.New("migrate: slot-migrate mode is not enabled")
	errAlreadyMigrating    = errors.New("migrate: a different migration is already in flight")
)

// AsyncRecvsNum bounds outstanding peer connections the async mover keeps
// busy at once.
const AsyncRecvsNum = 64

// Status reports the async mover's current state.
type Status struct {
	Dest      string
	Port      int
	Slot      uint32
	Migrating bool
	Moved     int
	Remaining int
}

// Mover is the background batched-slot migrator. A server owns exactly
// one; at most one migration is in flight at a time.
type Mover struct {
	mu      sync.Mutex
	status  Status
	cancel  bool
	pool    *Pool
	src     KeySource
	popper  SlotPopper
	enabled func() bool
}

// NewMover builds a mover. enabled reports whether slot-migrate mode is on;
// Start fails when it is not.
func NewMover(pool *Pool, src KeySource, popper SlotPopper, enabled func() bool) *Mover {
	return &Mover{pool: pool, src: src, popper: popper, enabled: enabled}
}

// Start initiates or continues migration of slot, popping up to
// keysPerRound members and migrating each. It runs
// synchronously for one round and returns (moved, remaining); callers that
// want a background loop call Start repeatedly (e.g. from the auxiliary
// thread) until remaining reaches 0 or Cancel is observed.
func (m *Mover) Start(opts Options, slot uint32, keysPerRound int) (moved, remaining int, err error) {
	if m.enabled != nil && !m.enabled() {
		return 0, 0, kverr.New(kverr.KindInvalidArgument, "migrate.Mover.Start", errSlotMigrateDisabled)
	}

	if m.src == nil || m.popper == nil {
		return 0, 0, kverr.New(kverr.KindInvalidArgument, "migrate.Mover.Start", errors.New("migrate: mover not bound to a database"))
	}

	m.mu.Lock()
	if m.status.Migrating && (m.status.Dest != opts.Host || m.status.Port != opts.Port || m.status.Slot != slot) {
		m.mu.Unlock()
		return 0, 0, kverr.New(kverr.KindBusy, "migrate.Mover.Start", errAlreadyMigrating)
	}

	m.status = Status{Dest: opts.Host, Port: opts.Port, Slot: slot, Migrating: true, Moved: m.status.Moved}
	m.cancel = false
	m.mu.Unlock()

	var sem = make(chan struct{}, AsyncRecvsNum)

	members, popErr := m.popper.PopMembers(slot, keysPerRound)
	if popErr != nil {
		m.finish()
		return 0, 0, popErr
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		movedNow int
		firstErr error
	)

	for _, member := range members {
		m.mu.Lock()
		cancelled := m.cancel
		m.mu.Unlock()

		if cancelled {
			// Cancellation takes effect between keys, never mid-key.
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(member []byte) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := MgrtTagOne(m.pool, m.src, opts, stripTypePrefix(member))

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = err
				}

				return
			}

			movedNow += n
		}(member)
	}

	wg.Wait()

	remainingMembers, _ := m.popper.PopMembers(slot, 0)

	m.mu.Lock()
	m.status.Moved += movedNow
	m.status.Remaining = len(remainingMembers)
	result := m.status
	m.mu.Unlock()

	if firstErr != nil {
		m.finish()
		return movedNow, result.Remaining, firstErr
	}

	if result.Remaining == 0 {
		m.finish()
	}

	return movedNow, result.Remaining, nil
}

func (m *Mover) finish() {
	m.mu.Lock()
	m.status.Migrating = false
	m.mu.Unlock()
}

// stripTypePrefix drops a slot-set member's leading type byte, yielding the
// bare user key MgrtTagOne operates on.
func stripTypePrefix(member []byte) []byte {
	if len(member) == 0 {
		return member
	}

	return member[1:]
}

// Cancel stops the mover at the next safe point between keys.
func (m *Mover) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel = true
}

// AsyncStatus reports the mover's current status.
func (m *Mover) AsyncStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}
