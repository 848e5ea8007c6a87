package gpucore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFenceTimeout bounds every fence wait issued by a Queue.
const DefaultFenceTimeout = 5 * time.Second

// Queue is the single submission channel shared by every engine on a
// device. SubmitAndWait holds a mutex across "submit + wait for fence",
// so at most one submission is in flight and no engine observes a
// partially executed command list.
//
// Thread safety: Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	device  Device
	timeout time.Duration

	submissions atomic.Uint64
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithFenceTimeout overrides DefaultFenceTimeout.
func WithFenceTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue wraps a device.
func NewQueue(device Device, opts ...QueueOption) *Queue {
	q := &Queue{device: device, timeout: DefaultFenceTimeout}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Device returns the underlying device.
func (q *Queue) Device() Device { return q.device }

// Submissions returns the number of completed submissions.
func (q *Queue) Submissions() uint64 { return q.submissions.Load() }

// SubmitAndWait submits everything recorded in enc, blocks until fence
// signals, and leaves enc empty. The fence's timeline value is advanced
// by one per submission, which re-arms it for the next call.
func (q *Queue) SubmitAndWait(enc *CommandEncoder, fence *Fence) error {
	if fence == nil || fence.id == InvalidID {
		return fmt.Errorf("%w: nil fence", ErrUnknownResource)
	}
	cmds := enc.Finish()

	q.mu.Lock()
	defer q.mu.Unlock()

	next := fence.value + 1
	if err := q.device.Submit(cmds, fence.id, next); err != nil {
		return fmt.Errorf("submit %s: %w", enc.Label(), err)
	}
	ok, err := q.device.Wait(fence.id, next, q.timeout)
	if err != nil {
		return fmt.Errorf("wait %s: %w", enc.Label(), err)
	}
	if !ok {
		return fmt.Errorf("wait %s after %v: %w", enc.Label(), q.timeout, ErrFenceTimeout)
	}
	fence.value = next
	q.submissions.Add(1)
	return nil
}

// Fence is a per-engine completion signal. Its timeline value only
// advances inside Queue.SubmitAndWait.
type Fence struct {
	device Device
	id     FenceID
	value  uint64
}

// NewFence creates a fence on the queue's device.
func (q *Queue) NewFence() (*Fence, error) {
	id, err := q.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	return &Fence{device: q.device, id: id}, nil
}

// ID returns the device fence handle.
func (f *Fence) ID() FenceID { return f.id }

// Value returns the last value observed as signaled.
func (f *Fence) Value() uint64 { return f.value }

// Destroy releases the fence. Safe to call more than once.
func (f *Fence) Destroy() {
	if f == nil || f.id == InvalidID {
		return
	}
	f.device.DestroyFence(f.id)
	f.id = InvalidID
}
