package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("store closed")

type job struct {
	ctx     context.Context
	name    string
	fn      func(ctx context.Context) error
	started chan struct{}
	result  chan error
}

// submit hands fn to the store's single worker and waits for its result.
// A job whose context ends while it is still queued is skipped. Once the
// worker has picked it up it runs to completion, state update included, and
// the caller waits for that outcome.
func (s *Store) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, name: name, fn: fn, started: make(chan struct{}), result: make(chan error, 1)}
	select {
	case <-s.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.jobs <- j:
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		select {
		case <-j.started:
			return <-j.result
		default:
			return ctx.Err()
		}
	case <-s.stopped:
		select {
		case err := <-j.result:
			return err
		default:
			return ErrClosed
		}
	}
}

func (s *Store) worker() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stopping:
			s.drain()
			return
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

func (s *Store) run(j job) {
	if err := j.ctx.Err(); err != nil {
		s.logger.WithField("op", j.name).Debug("store.op.skipped")
		j.result <- err
		return
	}
	close(j.started)
	j.result <- j.fn(context.WithoutCancel(j.ctx))
}

// drain fails every job still queued at shutdown.
func (s *Store) drain() {
	for {
		select {
		case j := <-s.jobs:
			j.result <- ErrClosed
		default:
			return
		}
	}
}
