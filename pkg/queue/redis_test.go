package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestRequestKindValid(t *testing.T) {
	for _, k := range []RequestKind{KindProvision, KindDestroy, KindCapture, KindReboot, KindResume, KindSuspend} {
		if !k.Valid() {
			t.Fatalf("expected %s to be valid", k)
		}
	}
	if RequestKind("format").Valid() {
		t.Fatalf("unexpected valid kind")
	}
}

func TestDecodeParams(t *testing.T) {
	req := &Request{ID: "r1", Params: json.RawMessage(`{"name":"golden"}`)}
	var params struct {
		Name string `json:"name"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Name != "golden" {
		t.Fatalf("unexpected params: %#v %v", params, err)
	}
	if err := (&Request{ID: "r2"}).DecodeParams(&params); err == nil {
		t.Fatalf("expected error for missing params")
	}
}

// Requires a reachable redis; set PROVISIONER_TEST_REDIS_URL to run.
func TestQueueRoundTrip(t *testing.T) {
	url := os.Getenv("PROVISIONER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PROVISIONER_TEST_REDIS_URL not set")
	}
	q, err := NewQueue(url)
	if err != nil {
		t.Fatalf("NewQueue returned error: %v", err)
	}
	defer q.Close()
	ctx := context.Background()

	req := &Request{Kind: KindDestroy, NodeID: "g1-n1"}
	if err := q.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if req.ID == "" || req.Status != StatusPending {
		t.Fatalf("unexpected enqueued request: %#v", req)
	}

	got, err := q.Dequeue(ctx, "worker-1")
	if err != nil || got == nil {
		t.Fatalf("Dequeue returned %v, %v", got, err)
	}
	if got.ID != req.ID || got.Status != StatusProcessing || got.WorkerID != "worker-1" {
		t.Fatalf("unexpected dequeued request: %#v", got)
	}

	if err := q.Complete(ctx, got.ID, map[string]string{"node": "g1-n1"}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	done, err := q.Get(ctx, got.ID)
	if err != nil || done.Status != StatusCompleted || len(done.Result) == 0 {
		t.Fatalf("unexpected completed request: %#v %v", done, err)
	}

	if _, err := q.Get(ctx, "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	if err := q.Enqueue(ctx, &Request{Kind: "format"}); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}
