// Package iqqueue is a multi-producer/multi-consumer broadcast queue of
// reference-counted IQ sample buffers with bounded capacity, feeding the
// demodulator from an RTL-SDR reader thread.
package iqqueue

import (
	"context"
	"sync"
)

// Buffer is one chunk of raw IQ (or already-demodulated) sample bytes,
// reference counted so a reclaim-in-place swap can tell whether a consumer
// still holds it.
type Buffer struct {
	data       []byte
	refs       *int32
	refMu      *sync.Mutex
	Start, End int
	SampleRate uint32
}

func newBuffer(capacity int) *Buffer {
	one := int32(1)
	return &Buffer{data: make([]byte, capacity), refs: &one, refMu: &sync.Mutex{}}
}

// clone returns a new handle sharing the same backing array, bumping the
// reference count.
func (b *Buffer) clone() *Buffer {
	b.refMu.Lock()
	*b.refs++
	b.refMu.Unlock()
	return &Buffer{data: b.data, refs: b.refs, refMu: b.refMu, Start: b.Start, End: b.End, SampleRate: b.SampleRate}
}

// release decrements the reference count, returning the count after release.
func (b *Buffer) release() int32 {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	*b.refs--
	return *b.refs
}

// Filled returns the portion of the buffer between Start and End.
func (b *Buffer) Filled() []byte { return b.data[b.Start:b.End] }

// Len reports how many bytes are filled.
func (b *Buffer) Len() int { return b.End - b.Start }

// Bytes returns the full backing array for a producer to fill, independent
// of the current Start/End markers.
func (b *Buffer) Bytes() []byte { return b.data }

// SetFilled marks the buffer as holding data[0:n], the producer's usual call
// after writing n bytes into the slice returned by Bytes.
func (b *Buffer) SetFilled(n int) {
	b.Start = 0
	b.End = n
}

// reclaimOrAllocate returns a mutable byte slice of the given capacity,
// reusing this buffer's backing array in place if nothing else references
// it, or allocating a fresh one otherwise.
func (b *Buffer) reclaimOrAllocate(capacity int) []byte {
	b.refMu.Lock()
	canReuse := *b.refs == 1 && len(b.data) == capacity
	b.refMu.Unlock()
	if !canReuse {
		*b = *newBuffer(capacity)
	}
	b.Start, b.End = 0, 0
	return b.data
}

// sharedState is the queue proper: a ring of in-flight buffers addressed by
// an absolute head/tail position so each Receiver can detect how far it has
// fallen behind.
type sharedState struct {
	mu   sync.Mutex
	cond sync.Cond

	numSenders     int
	numSubscribers int
	numReceivers   int

	slots    []*Buffer
	headPos  int
	tailPos  int
	capacity int
}

func (s *sharedState) popBuffer() (*Buffer, bool) {
	if len(s.slots) != s.capacity {
		return nil, false
	}
	b := s.slots[0]
	s.slots = s.slots[1:]
	s.headPos++
	return b, true
}

func (s *sharedState) pushBuffer(b *Buffer) {
	s.slots = append(s.slots, b)
	s.tailPos++
	s.cond.Broadcast()
}

// Subscriber marks intent to eventually consume, without yet actively
// reading — the producer only blocks waiting for receivers if there are no
// subscribers left either.
type Subscriber struct {
	shared *sharedState
}

// Receiver creates an active consumer handle starting at the current tail
// (it only sees buffers published after this call).
func (s *Subscriber) Receiver() *Receiver {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.numReceivers++
	if s.shared.numReceivers == 1 {
		s.shared.cond.Broadcast()
	}
	return &Receiver{shared: s.shared, readPos: s.shared.tailPos}
}

// Close releases this subscription handle.
func (s *Subscriber) Close() {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.numSubscribers--
	if s.shared.numSubscribers == 0 && s.shared.numReceivers == 0 {
		s.shared.cond.Broadcast()
	}
}

// Receiver reads buffers in publish order, reporting lag if it falls behind
// the queue's bounded capacity.
type Receiver struct {
	shared  *sharedState
	readPos int
}

// Next blocks until a buffer is available, the context is cancelled, or the
// stream ends because every sender has gone away. ok is false on stream
// end (with a nil err) and on ctx cancellation (with err set to ctx.Err()).
func (r *Receiver) Next(ctx context.Context) (buf *Buffer, lagged int, ok bool, err error) {
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.shared.mu.Lock()
				r.shared.cond.Broadcast()
				r.shared.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, 0, false, ctx.Err()
			default:
			}
		}

		queueIndex := r.readPos - r.shared.headPos
		if queueIndex < 0 {
			lagged = -queueIndex
			r.readPos = r.shared.headPos
			queueIndex = 0
		}

		if r.readPos < r.shared.tailPos {
			b := r.shared.slots[queueIndex].clone()
			r.readPos++
			return b, lagged, true, nil
		}
		if r.shared.numSenders == 0 {
			return nil, lagged, false, nil
		}
		r.shared.cond.Wait()
	}
}

// Close releases this receiver, notifying any blocked Sender if it was the
// last consumer.
func (r *Receiver) Close() {
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	r.shared.numReceivers--
	if r.shared.numSubscribers == 0 && r.shared.numReceivers == 0 {
		r.shared.cond.Broadcast()
	}
}

// Sender is the producer side: the reader thread swaps a filled buffer for
// a free one to refill.
type Sender struct {
	shared *sharedState
}

// SwapBuffers pushes pushed (the buffer just filled, if any) and returns a
// buffer to fill next, reclaiming an old slot in place when possible. If
// block is true and there are subscribers but no active receivers, it waits
// for one to appear; it returns nil, false once every subscriber and
// receiver has gone.
func (s *Sender) SwapBuffers(pushed *Buffer, bufferSize int, block bool) (*Buffer, bool) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	for s.shared.numReceivers == 0 && block {
		if s.shared.numSubscribers == 0 {
			return nil, false
		}
		s.shared.cond.Wait()
	}

	if pushed != nil {
		s.shared.pushBuffer(pushed)
	}

	if b, ok := s.shared.popBuffer(); ok {
		b.reclaimOrAllocate(bufferSize)
		return b, true
	}
	return newBuffer(bufferSize), true
}

// Close marks this sender gone, waking any Receiver blocked waiting for
// more data so it can observe end-of-stream.
func (s *Sender) Close() {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.numSenders--
	s.shared.cond.Broadcast()
}

// New creates a bounded broadcast queue holding at most capacity in-flight
// buffers, returning the producer Sender and an initial Subscriber handle.
func New(capacity int) (*Sender, *Subscriber) {
	if capacity <= 0 {
		panic("iqqueue: capacity must be > 0")
	}
	shared := &sharedState{
		numSenders:     1,
		numSubscribers: 1,
		capacity:       capacity,
		slots:          make([]*Buffer, 0, capacity),
	}
	shared.cond.L = &shared.mu
	return &Sender{shared: shared}, &Subscriber{shared: shared}
}
