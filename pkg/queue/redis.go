package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// RequestKind names the node operation a request asks for.
type RequestKind string

const (
	KindProvision RequestKind = "provision"
	KindDestroy   RequestKind = "destroy"
	KindCapture   RequestKind = "capture"
	KindReboot    RequestKind = "reboot"
	KindResume    RequestKind = "resume"
	KindSuspend   RequestKind = "suspend"
)

// Valid reports whether k is a known kind.
func (k RequestKind) Valid() bool {
	switch k {
	case KindProvision, KindDestroy, KindCapture, KindReboot, KindResume, KindSuspend:
		return true
	}
	return false
}

var ErrRequestNotFound = errors.New("request not found")

const (
	queueKey      = "provisioner:queue"
	recordTTL     = 24 * time.Hour
	dequeueWindow = 5 * time.Second
)

type Request struct {
	ID          string          `json:"id"`
	Kind        RequestKind     `json:"kind"`
	NodeID      string          `json:"node_id,omitempty"`
	Status      RequestStatus   `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	StartedAt   int64           `json:"started_at,omitempty"`
	CompletedAt int64           `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DecodeParams unmarshals the request parameters into v.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return fmt.Errorf("request %s has no params", r.ID)
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("decode params for request %s: %w", r.ID, err)
	}
	return nil
}

type Queue struct {
	redis *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client}, nil
}

func recordKey(id string) string { return "provisioner:request:" + id }

// Enqueue stores the request record and appends it to the work queue. An
// empty ID is assigned.
func (q *Queue) Enqueue(ctx context.Context, req *Request) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().Unix()
	req.Status = StatusPending

	if err := q.save(ctx, req); err != nil {
		return err
	}
	return q.redis.RPush(ctx, queueKey, req.ID).Err()
}

// Dequeue blocks briefly for the next request and marks it processing. It
// returns (nil, nil) when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Request, error) {
	result, err := q.redis.BLPop(ctx, dequeueWindow, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return q.update(ctx, result[1], func(r *Request) {
		r.Status = StatusProcessing
		r.WorkerID = workerID
		r.StartedAt = time.Now().Unix()
	})
}

func (q *Queue) Complete(ctx context.Context, id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = q.update(ctx, id, func(r *Request) {
		r.Status = StatusCompleted
		r.CompletedAt = time.Now().Unix()
		r.Result = payload
	})
	return err
}

func (q *Queue) Fail(ctx context.Context, id string, errorMsg string) error {
	_, err := q.update(ctx, id, func(r *Request) {
		r.Status = StatusFailed
		r.CompletedAt = time.Now().Unix()
		r.Error = errorMsg
	})
	return err
}

func (q *Queue) Get(ctx context.Context, id string) (*Request, error) {
	data, err := q.redis.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &req, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, queueKey).Result()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}

func (q *Queue) update(ctx context.Context, id string, fn func(*Request)) (*Request, error) {
	req, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(req)
	if err := q.save(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (q *Queue) save(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, recordKey(req.ID), data, recordTTL).Err()
}
