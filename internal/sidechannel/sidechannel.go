// Package sidechannel carries handle tokens from worker goroutines to the host.
//
// A channel is an unbounded FIFO of strings split into a Sender and a Receiver.
// The host only ever calls TryRecv; it must not block on a worker.
package sidechannel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close and by Recv once the channel is
// closed and empty.
var ErrClosed = errors.New("side channel closed")

// queue is the shared state behind both halves.
//
// The signal channel has a buffer of 1 so bursts of sends coalesce into a
// single wakeup; Recv re-checks the slice after every wake.
type queue struct {
	mu     sync.Mutex
	tokens []string
	closed bool
	signal chan struct{}
}

// Sender is the worker half.
type Sender struct {
	q *queue
}

// Receiver is the host half.
type Receiver struct {
	q *queue
}

// New creates a connected Sender and Receiver.
func New() (*Sender, *Receiver) {
	q := &queue{
		tokens: make([]string, 0, 16),
		signal: make(chan struct{}, 1),
	}
	return &Sender{q: q}, &Receiver{q: q}
}

// Send appends token. Safe for concurrent use.
func (s *Sender) Send(token string) error {
	q := s.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.tokens = append(q.tokens, token)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Close stops further sends and wakes blocked receivers. Tokens already
// queued stay receivable.
func (s *Sender) Close() {
	s.q.close()
}

// TryRecv removes the oldest token without blocking.
func (r *Receiver) TryRecv() (string, bool) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tokens) == 0 {
		return "", false
	}
	tok := q.tokens[0]
	q.tokens[0] = ""
	if len(q.tokens) == 1 {
		q.tokens = q.tokens[:0]
	} else {
		q.tokens = q.tokens[1:]
	}
	return tok, true
}

// Recv blocks until a token is available, the channel is closed and empty, or
// ctx is done.
func (r *Receiver) Recv(ctx context.Context) (string, error) {
	for {
		if tok, ok := r.TryRecv(); ok {
			return tok, nil
		}

		r.q.mu.Lock()
		closed := r.q.closed
		r.q.mu.Unlock()
		if closed {
			// A send may have landed between TryRecv and the closed check.
			if tok, ok := r.TryRecv(); ok {
				return tok, nil
			}
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-r.q.signal:
		}
	}
}

// Len returns the number of queued tokens.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.tokens)
}

// Close is the receiver-side equivalent of Sender.Close.
func (r *Receiver) Close() {
	r.q.close()
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
