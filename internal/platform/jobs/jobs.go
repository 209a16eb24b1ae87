// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package jobs provides a minimal Redis-backed job queue.

Producers push JSON-encoded jobs onto a Redis list; an out-of-process worker
consumes them with BRPOP. The queue carries side effects (email delivery)
that must never block or fail an API request.
*/
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keiro-dev/keiro/internal/platform/constants"
	"github.com/keiro-dev/keiro/pkg/uuidv7"
)

// Job is a single unit of deferred work.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Enqueuer pushes jobs onto the shared Redis queue.
type Enqueuer struct {
	client *redis.Client
}

// NewEnqueuer creates a new Redis-backed Enqueuer.
func NewEnqueuer(client *redis.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

/*
Enqueue serializes the payload and pushes a job onto the queue.

Parameters:
  - context: context.Context
  - kind: string (Worker dispatch key, e.g. "email:verification")
  - payload: any (JSON-serializable job body)

Returns:
  - error: Serialization or Redis failures
*/
func (enqueuer *Enqueuer) Enqueue(context context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs_payload_marshal_failed: %w", err)
	}

	job := Job{
		ID:        uuidv7.New(),
		Kind:      kind,
		Payload:   body,
		CreatedAt: time.Now(),
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs_job_marshal_failed: %w", err)
	}

	if err := enqueuer.client.LPush(context, constants.JobQueueKey, encoded).Err(); err != nil {
		return fmt.Errorf("jobs_enqueue_failed: %w", err)
	}

	return nil
}
