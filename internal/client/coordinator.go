// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package client provides the Go client for the Keiro API, including the
single-flight refresh coordinator that serializes credential rotation.

# Why a coordinator?

Refresh credentials are single-use: of N concurrent rotations, exactly one
wins and the rest are rejected. A client with several in-flight requests that
all hit an expired access credential must therefore funnel through ONE
rotation, then replay. The [Coordinator] implements that funnel per client
instance; there is no process-global state, so separate clients (separate
sessions) refresh independently.
*/
package client

import (
	"context"
	"errors"
	"sync"
)

// ErrCredentialExpired classifies an operation failure as "the access
// credential expired". Only this class of failure triggers a refresh; every
// other error propagates to the caller untouched.
var ErrCredentialExpired = errors.New("client: access credential expired")

// Operation is one authenticated API call. It receives the access credential
// to attach and reports failure through the usual error return.
type Operation func(ctx context.Context, accessToken string) error

// Rotator performs one credential rotation and returns the new access
// credential. Implementations hold the refresh credential.
type Rotator interface {
	Rotate(ctx context.Context) (accessToken string, err error)
}

// waiter is an operation parked behind an in-flight rotation.
type waiter struct {
	op        Operation
	ctx       context.Context
	done      chan error // buffered(1); the replay goroutine never blocks on it
	cancelled bool       // set under the coordinator mutex when the waiter gives up
}

// Coordinator runs operations with automatic single-flight refresh.
//
// At most one rotation is in flight at any time. Operations that fail with
// [ErrCredentialExpired] while a rotation runs are queued FIFO and replayed
// in order once it completes. A waiter whose context expires abandons its
// slot without cancelling the shared rotation, since others still depend
// on it.
type Coordinator struct {
	rotator Rotator

	mu          sync.Mutex
	accessToken string
	inflight    bool
	waiters     []*waiter
}

// NewCoordinator creates a coordinator around the given rotator.
func NewCoordinator(rotator Rotator) *Coordinator {
	return &Coordinator{rotator: rotator}
}

// SetAccessToken seeds the access credential, typically right after login.
func (coordinator *Coordinator) SetAccessToken(token string) {
	coordinator.mu.Lock()
	coordinator.accessToken = token
	coordinator.mu.Unlock()
}

// AccessToken returns the currently held access credential.
func (coordinator *Coordinator) AccessToken() string {
	coordinator.mu.Lock()
	defer coordinator.mu.Unlock()
	return coordinator.accessToken
}

/*
Do runs the operation with the current access credential.

Description: On success or any non-expiry failure the result is returned
directly. On an expiry-classified failure the operation joins the refresh
queue: the first arrival starts the rotation, later arrivals just wait.
After the rotation finishes, queued operations are replayed in FIFO order
with the new credential and each caller receives its own replay result.

Parameters:
  - ctx: Caller's context; bounds the WAIT, not the shared rotation.
  - op: The operation to run.

Returns:
  - error: The operation's result, the rotation failure, or ctx.Err()
*/
func (coordinator *Coordinator) Do(ctx context.Context, op Operation) error {
	coordinator.mu.Lock()
	token := coordinator.accessToken
	coordinator.mu.Unlock()

	err := op(ctx, token)
	if err == nil || !errors.Is(err, ErrCredentialExpired) {
		return err
	}

	return coordinator.waitAndReplay(ctx, op)
}

// waitAndReplay parks the operation behind the rotation, starting one if none
// is in flight.
func (coordinator *Coordinator) waitAndReplay(ctx context.Context, op Operation) error {
	parked := &waiter{op: op, ctx: ctx, done: make(chan error, 1)}

	coordinator.mu.Lock()
	coordinator.waiters = append(coordinator.waiters, parked)
	if !coordinator.inflight {
		coordinator.inflight = true
		// The rotation is shared state, so it runs on a background context:
		// one impatient waiter must not kill the refresh for everyone else.
		go coordinator.rotateAndReplay(context.Background())
	}
	coordinator.mu.Unlock()

	select {
	case err := <-parked.done:
		return err
	case <-ctx.Done():
		// Release the slot; the rotation keeps running for the others.
		coordinator.mu.Lock()
		parked.cancelled = true
		coordinator.mu.Unlock()
		return ctx.Err()
	}
}

// rotateAndReplay performs the single rotation and drains the waiter queue.
func (coordinator *Coordinator) rotateAndReplay(ctx context.Context) {
	token, rotateErr := coordinator.rotator.Rotate(ctx)

	coordinator.mu.Lock()
	if rotateErr != nil {
		// The session is unusable; drop the credential so subsequent calls
		// fail fast instead of replaying a dead token.
		coordinator.accessToken = ""
	} else {
		coordinator.accessToken = token
	}
	queued := coordinator.waiters
	coordinator.waiters = nil
	coordinator.inflight = false
	coordinator.mu.Unlock()

	for _, parked := range queued {
		coordinator.mu.Lock()
		abandoned := parked.cancelled
		coordinator.mu.Unlock()
		if abandoned {
			continue
		}

		if rotateErr != nil {
			parked.done <- rotateErr
			continue
		}

		// Replay in arrival order with the fresh credential.
		parked.done <- parked.op(parked.ctx, token)
	}
}
