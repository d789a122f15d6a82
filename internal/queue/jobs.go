// Package queue defines the deferred child-save task. When some questions of
// a paper could not be saved, the CLI can hand them to the queue and a worker
// keeps retrying them in the background.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

const (
	// RetryChildrenTask is scheduled for the unsaved questions of a paper
	// whose container already exists.
	RetryChildrenTask = "questions:retry"
)

// RetryChildrenPayload is serialized into the task payload so the worker
// knows which container the items belong to.
type RetryChildrenPayload struct {
	PaperID string             `json:"paper_id"`
	Items   []model.ParsedItem `json:"items"`
}

// RedisOpt converts the queue config into asynq's connection options.
func RedisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewRetryChildrenTask builds the task for payload. The task ID is derived
// from the paper so a second enqueue for the same paper is rejected while
// the first one is pending.
func NewRetryChildrenTask(payload RetryChildrenPayload, maxRetry int) (*asynq.Task, error) {
	if payload.PaperID == "" {
		return nil, errors.New("paper id is required")
	}
	if len(payload.Items) == 0 {
		return nil, errors.New("no items to retry")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(RetryChildrenTask, data,
		asynq.MaxRetry(maxRetry),
		asynq.TaskID("retry-"+payload.PaperID),
	), nil
}

// DecodeRetryChildren reads the payload of a RetryChildrenTask.
func DecodeRetryChildren(task *asynq.Task) (RetryChildrenPayload, error) {
	var payload RetryChildrenPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.PaperID == "" {
		return payload, errors.New("decode payload: missing paper id")
	}
	return payload, nil
}

// EnqueueRetryChildren enqueues a deferred child-save job.
func EnqueueRetryChildren(ctx context.Context, client *asynq.Client, payload RetryChildrenPayload, maxRetry int) (*asynq.TaskInfo, error) {
	task, err := NewRetryChildrenTask(payload, maxRetry)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueue retry task: %w", err)
	}
	return info, nil
}
