// Package devicepool manages the fixed set of compute devices available to
// one workload class and hands out exclusive leases on them.
//
// A Pool never creates or destroys devices after construction; descriptors
// are built once from configuration. Acquisition blocks until a device frees
// up or the caller's context expires, and selection among free devices is
// round-robin so load spreads evenly across GPUs instead of hammering the
// first one in the list.
package devicepool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cardgen/core"
	"cardgen/logging"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("devicepool: pool is closed")

// descriptor is the pool-internal state for one device. Exactly one
// in-flight lease per descriptor at a time; busy-state is only ever touched
// under the pool lock.
type descriptor struct {
	name    string
	busy    bool
	leaseID string
}

// Lease is the ownership token binding one request to one device for the
// duration of one attempt. Release is safe to call more than once; the
// second call is a logged no-op, never a crash.
type Lease struct {
	// ID uniquely identifies this lease.
	ID string

	pool *Pool
	desc *descriptor
	once sync.Once
}

// Device returns the leased device name, e.g. "cuda:0".
func (l *Lease) Device() string {
	return l.desc.name
}

// Release returns the device to the pool. Guaranteed to run its effect at
// most once; callers should defer it immediately after acquisition so the
// device is returned on every exit path, including panics.
func (l *Lease) Release() {
	released := false
	l.once.Do(func() {
		l.pool.release(l)
		released = true
	})
	if !released {
		l.pool.logger.Warn("double release of device lease",
			zap.String("device", l.desc.name),
			zap.String("lease_id", l.ID),
		)
	}
}

// Pool tracks the devices serving one workload class.
type Pool struct {
	mu      sync.Mutex
	class   core.WorkloadClass
	devices []*descriptor
	next    int // round-robin scan start
	closed  bool

	// freeCh carries one signal per release so a blocked Acquire wakes
	// without polling. Capacity equals the device count, so Release never
	// blocks.
	freeCh chan struct{}

	logger *logging.Logger
}

// New creates a pool for the given workload class over the named devices.
// The device list comes from configuration and must be non-empty.
func New(class core.WorkloadClass, deviceNames []string, logger *logging.Logger) (*Pool, error) {
	if len(deviceNames) == 0 {
		return nil, errors.New("devicepool: at least one device is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	devices := make([]*descriptor, len(deviceNames))
	for i, name := range deviceNames {
		devices[i] = &descriptor{name: name}
	}

	return &Pool{
		class:   class,
		devices: devices,
		freeCh:  make(chan struct{}, len(deviceNames)),
		logger:  logger.Named("devicepool").With(zap.String("class", string(class))),
	}, nil
}

// Acquire leases a free device, blocking until one is released or ctx
// expires. Returns core.ErrNoDeviceAvailable when the wait exhausts the
// caller's budget.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		lease, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}

		select {
		case <-p.freeCh:
			// A device was released; loop and race for it. Another waiter
			// may win, in which case we block again.
		case <-ctx.Done():
			return nil, core.ErrNoDeviceAvailable(p.class)
		}
	}
}

// AcquireTimeout is the duration-based variant of Acquire.
func (p *Pool) AcquireTimeout(timeout time.Duration) (*Lease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Acquire(ctx)
}

// tryAcquire leases a free device without blocking. Returns (nil, nil) when
// every device is busy.
func (p *Pool) tryAcquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	n := len(p.devices)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		d := p.devices[idx]
		if d.busy {
			continue
		}

		lease := &Lease{
			ID:   uuid.NewString(),
			pool: p,
			desc: d,
		}
		d.busy = true
		d.leaseID = lease.ID
		p.next = (idx + 1) % n

		p.logger.Debug("device leased",
			zap.String("device", d.name),
			zap.String("lease_id", lease.ID),
		)
		return lease, nil
	}
	return nil, nil
}

// release returns a device to the pool. Only called through Lease.Release,
// which guarantees at-most-once execution per lease.
func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.desc.leaseID != l.ID {
		// A stale token for a device that has been re-leased since. Logic
		// error upstream; the current holder keeps the device.
		p.logger.Warn("release with stale lease token",
			zap.String("device", l.desc.name),
			zap.String("lease_id", l.ID),
		)
		return
	}

	l.desc.busy = false
	l.desc.leaseID = ""

	p.logger.Debug("device released",
		zap.String("device", l.desc.name),
		zap.String("lease_id", l.ID),
	)

	// Wake one waiter. Capacity bounds pending signals; dropping the signal
	// when the channel is full is fine because waiters re-scan on wake.
	select {
	case p.freeCh <- struct{}{}:
	default:
	}
}

// Size returns the total number of devices in the pool.
func (p *Pool) Size() int {
	return len(p.devices)
}

// FreeCount returns how many devices are currently unleased.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, d := range p.devices {
		if !d.busy {
			free++
		}
	}
	return free
}

// Class returns the workload class this pool serves.
func (p *Pool) Class() core.WorkloadClass {
	return p.class
}

// Close marks the pool closed. Outstanding leases may still be released;
// new acquisitions fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
