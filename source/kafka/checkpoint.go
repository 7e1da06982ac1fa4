package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errTrackCanceled = errors.New("kafka: checkpoint tracking canceled")

// tracker keeps in-flight records in arrival order. Resolving a record
// folds it into its predecessor, so the head always holds the highest
// position below which everything is resolved.
type node[T any] struct {
	pos        int64
	payload    T
	prev, next *node[T]
}

type tracker[T any] struct {
	cpPos      int64
	cpPay      *T
	start, end *node[T]
}

func (u *tracker[T]) track(p T, size int64) func() *T {
	n := &node[T]{payload: p, pos: size}
	if u.start == nil {
		u.start = n
	}
	if u.end != nil {
		n.prev = u.end
		n.pos += u.end.pos
		u.end.next = n
	} else {
		n.pos += u.cpPos
	}
	u.end = n
	return func() *T {
		if n.prev != nil {
			n.prev.pos = n.pos
			n.prev.payload = n.payload
			n.prev.next = n.next
		} else {
			tmp := n.payload
			u.cpPay, u.cpPos = &tmp, n.pos
			u.start = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		} else {
			u.end = n.prev
		}
		return u.cpPay
	}
}

func (u *tracker[T]) pending() int64 {
	if u.end == nil {
		return 0
	}
	return u.end.pos - u.cpPos
}

// Capped is a tracker that blocks Track while more than cap records are
// unresolved.
type Capped[T any] struct {
	u    tracker[T]
	cap  int64
	cond *sync.Cond
}

func NewCapped[T any](cap int64) *Capped[T] {
	return &Capped[T]{cap: cap, cond: sync.NewCond(&sync.Mutex{})}
}

func (c *Capped[T]) Track(ctx context.Context, p T, batch int64) (func() *T, error) {
	stop := context.AfterFunc(ctx, func() {
		c.cond.L.Lock()
		c.cond.Broadcast()
		c.cond.L.Unlock()
	})
	defer stop()

	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	for pend := c.u.pending(); pend > 0 && pend+batch > c.cap; pend = c.u.pending() {
		if ctx.Err() != nil {
			return nil, errTrackCanceled
		}
		c.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, errTrackCanceled
	}
	res := c.u.track(p, batch)
	return func() *T {
		c.cond.L.Lock()
		defer c.cond.L.Unlock()
		r := res()
		c.cond.Broadcast()
		return r
	}, nil
}

func (c *Capped[T]) Pending() int64 {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	return c.u.pending()
}

func (c *Capped[T]) Highest() *T {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	return c.u.cpPay
}

// Manager decides when a driver should flush its offsets.
type Manager[T any] struct {
	capped        *Capped[T]
	commitEveryNS int64
	lastCommitNS  atomic.Int64
}

func NewManager[T any](cap int64, commitEvery time.Duration) *Manager[T] {
	return &Manager[T]{
		capped:        NewCapped[T](cap),
		commitEveryNS: commitEvery.Nanoseconds(),
	}
}

// Track registers payload as in flight. Once the payload is fully handled
// the driver calls the returned resolve func, which reports the highest
// contiguous resolved payload and whether a commit is due.
func (m *Manager[T]) Track(ctx context.Context, payload T) (resolve func() (highest *T, shouldCommit bool), err error) {
	res, err := m.capped.Track(ctx, payload, 1)
	if err != nil {
		return nil, err
	}
	return func() (*T, bool) {
		highest := res()
		now := time.Now().UnixNano()
		last := m.lastCommitNS.Load()
		if last+m.commitEveryNS <= now && m.lastCommitNS.CompareAndSwap(last, now) {
			return highest, true
		}
		return highest, false
	}, nil
}
