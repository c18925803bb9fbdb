package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/controlplane"
	"github.com/vyvo/compute/provisioner/pkg/queue"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

const dequeueRetryDelay = time.Second

type requestSource interface {
	Dequeue(ctx context.Context, workerID string) (*queue.Request, error)
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id string, errorMsg string) error
}

type nodeOperator interface {
	Provision(ctx context.Context, req controlplane.ProvisionRequest) (*controlplane.ProvisionResult, error)
	Destroy(ctx context.Context, id string) controlplane.TeardownReport
	Reboot(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Suspend(ctx context.Context, id string) error
	CaptureImage(ctx context.Context, id, imageName string) (*resourcegraph.ImageSelection, error)
}

type captureResult struct {
	ImageID string                        `json:"image_id"`
	Image   *resourcegraph.ImageSelection `json:"image"`
}

// execute runs one request. A halted teardown is a completed request whose
// report names the skipped step.
func execute(ctx context.Context, op nodeOperator, req *queue.Request) (any, error) {
	switch req.Kind {
	case queue.KindProvision:
		var pr controlplane.ProvisionRequest
		if err := req.DecodeParams(&pr); err != nil {
			return nil, err
		}
		return op.Provision(ctx, pr)
	case queue.KindDestroy:
		return op.Destroy(ctx, req.NodeID), nil
	case queue.KindReboot:
		return map[string]string{"node": req.NodeID}, op.Reboot(ctx, req.NodeID)
	case queue.KindResume:
		return map[string]string{"node": req.NodeID}, op.Resume(ctx, req.NodeID)
	case queue.KindSuspend:
		return map[string]string{"node": req.NodeID}, op.Suspend(ctx, req.NodeID)
	case queue.KindCapture:
		var params struct {
			Name string `json:"name"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		img, err := op.CaptureImage(ctx, req.NodeID, params.Name)
		if err != nil {
			return nil, err
		}
		return captureResult{ImageID: img.ID(), Image: img}, nil
	}
	return nil, fmt.Errorf("unknown request kind %q", req.Kind)
}

// runWorker processes requests until ctx is cancelled.
func runWorker(ctx context.Context, workerID string, src requestSource, op nodeOperator, logger *slog.Logger) {
	logger = logger.With("worker", workerID)
	logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			logger.Info("worker stopped")
			return
		}
		req, err := src.Dequeue(ctx, workerID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("dequeue failed", "error", err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}
		if req == nil {
			continue
		}
		process(ctx, src, op, req, logger)
	}
}

func process(ctx context.Context, src requestSource, op nodeOperator, req *queue.Request, logger *slog.Logger) {
	logger = logger.With("request", req.ID, "kind", req.Kind, "node", req.NodeID)
	logger.Info("processing request")

	result, err := execute(ctx, op, req)
	if err != nil {
		logger.Error("request failed", "error", err)
		if ferr := src.Fail(ctx, req.ID, err.Error()); ferr != nil {
			logger.Error("record failure", "error", ferr)
		}
		return
	}
	if cerr := src.Complete(ctx, req.ID, result); cerr != nil {
		logger.Error("record result", "error", cerr)
		return
	}
	logger.Info("request completed")
}
