package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

func payload() RetryChildrenPayload {
	return RetryChildrenPayload{
		PaperID: "p1",
		Items:   []model.ParsedItem{{ID: "i2", Text: "Sketch y", Kind: model.KindGraph, PointValue: 3}},
	}
}

func TestRetryTaskRoundTrip(t *testing.T) {
	task, err := NewRetryChildrenTask(payload(), 3)
	require.NoError(t, err)
	assert.Equal(t, RetryChildrenTask, task.Type())

	got, err := DecodeRetryChildren(task)
	require.NoError(t, err)
	assert.Equal(t, payload(), got)
}

func TestRetryTaskValidation(t *testing.T) {
	_, err := NewRetryChildrenTask(RetryChildrenPayload{Items: payload().Items}, 3)
	assert.Error(t, err)
	_, err = NewRetryChildrenTask(RetryChildrenPayload{PaperID: "p1"}, 3)
	assert.Error(t, err)

	_, err = DecodeRetryChildren(asynq.NewTask(RetryChildrenTask, []byte("not json")))
	assert.Error(t, err)
}

func TestEnqueueRetryChildren(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(RedisOpt(config.QueueConfig{RedisAddr: mr.Addr()}))
	defer client.Close()

	info, err := EnqueueRetryChildren(context.Background(), client, payload(), 5)
	require.NoError(t, err)
	assert.Equal(t, "retry-p1", info.ID)
	assert.Equal(t, "default", info.Queue)
	assert.Equal(t, 5, info.MaxRetry)

	_, err = EnqueueRetryChildren(context.Background(), client, payload(), 5)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)
}
