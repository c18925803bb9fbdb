package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vyvo/compute/provisioner/pkg/auth"
	"github.com/vyvo/compute/provisioner/pkg/controlplane"
	"github.com/vyvo/compute/provisioner/pkg/queue"
	"github.com/vyvo/compute/provisioner/pkg/resourcegraph"
)

type requestQueue interface {
	Enqueue(ctx context.Context, req *queue.Request) error
	Get(ctx context.Context, id string) (*queue.Request, error)
	Length(ctx context.Context) (int64, error)
}

type nodeReader interface {
	ListNodes(ctx context.Context) ([]*controlplane.NodeRecord, error)
	ListNodesByIDs(ctx context.Context, ids []string) ([]*controlplane.NodeRecord, error)
	GetNode(ctx context.Context, id string) (*controlplane.NodeRecord, error)
}

type server struct {
	queue   requestQueue
	nodes   nodeReader
	journal controlplane.Journal
	logger  *slog.Logger
}

type provisionBody struct {
	Group     string `json:"group"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	VMSize    string `json:"vm_size"`
	Image     string `json:"image"`
	User      string `json:"user"`
	PublicKey string `json:"public_key"`
}

type captureBody struct {
	Name string `json:"name"`
}

type acceptedResponse struct {
	RequestID string              `json:"request_id"`
	Kind      queue.RequestKind   `json:"kind"`
	NodeID    string              `json:"node_id,omitempty"`
	Status    queue.RequestStatus `json:"status"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Timestamp int64  `json:"timestamp"`
}

func (s *server) routes(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireKey(apiKeys))

			r.Route("/nodes", func(r chi.Router) {
				r.Post("/", s.handleProvision)
				r.Get("/", s.handleListNodes)
				r.Get("/{id}", s.handleGetNode)
				r.Delete("/{id}", s.handleDestroy)
				r.Get("/{id}/events", s.handleNodeEvents)
				r.Post("/{id}/images", s.handleCapture)
				r.Post("/{id}/{action}", s.handlePower)
			})
			r.Get("/requests/{id}", s.handleGetRequest)
		})
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Queue: "ok", Timestamp: time.Now().Unix()}
	pending, err := s.queue.Length(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Queue = fmt.Sprintf("error: %v", err)
		respondJSON(w, resp, http.StatusServiceUnavailable)
		return
	}
	resp.Pending = pending
	respondJSON(w, resp, http.StatusOK)
}

func (s *server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var body provisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(body.Group) == "" {
		respondError(w, http.StatusBadRequest, "group is required")
		return
	}
	image, err := resourcegraph.ParseImageID(body.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := controlplane.ProvisionRequest{
		Group:    body.Group,
		Name:     body.Name,
		Location: body.Location,
		VMSize:   body.VMSize,
		Image:    image,
		Login:    resourcegraph.LoginOptions{User: body.User, PublicKey: body.PublicKey},
	}
	s.enqueue(w, r, queue.KindProvision, body.Name, req)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var (
		nodes []*controlplane.NodeRecord
		err   error
	)
	if ids := r.URL.Query().Get("ids"); ids != "" {
		nodes, err = s.nodes.ListNodesByIDs(r.Context(), strings.Split(ids, ","))
	} else {
		nodes, err = s.nodes.ListNodes(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to list nodes: %v", err))
		return
	}
	respondJSON(w, map[string]any{"nodes": nodes, "total": len(nodes)}, http.StatusOK)
}

func (s *server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.nodes.GetNode(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, controlplane.ErrNodeNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to get node: %v", err))
		return
	}
	respondJSON(w, node, http.StatusOK)
}

func (s *server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, queue.KindDestroy, chi.URLParam(r, "id"), nil)
}

func (s *server) handlePower(w http.ResponseWriter, r *http.Request) {
	kind := queue.RequestKind(chi.URLParam(r, "action"))
	switch kind {
	case queue.KindReboot, queue.KindResume, queue.KindSuspend:
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", kind))
		return
	}
	s.enqueue(w, r, kind, chi.URLParam(r, "id"), nil)
}

func (s *server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var body captureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		respondError(w, http.StatusBadRequest, "image name is required")
		return
	}
	s.enqueue(w, r, queue.KindCapture, chi.URLParam(r, "id"), body)
}

func (s *server) handleNodeEvents(w http.ResponseWriter, r *http.Request) {
	events := s.journal.GetEvents(chi.URLParam(r, "id"))
	if events == nil {
		events = []controlplane.NodeEvent{}
	}
	respondJSON(w, map[string]any{"events": events}, http.StatusOK)
}

func (s *server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrRequestNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get request: %v", err))
		return
	}
	respondJSON(w, req, http.StatusOK)
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, kind queue.RequestKind, nodeID string, params any) {
	req := &queue.Request{Kind: kind, NodeID: nodeID}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("encode params: %v", err))
			return
		}
		req.Params = payload
	}
	if err := s.queue.Enqueue(r.Context(), req); err != nil {
		s.logger.Error("enqueue failed", "kind", kind, "node", nodeID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue request")
		return
	}
	s.logger.Info("request enqueued", "request", req.ID, "kind", kind, "node", nodeID)
	respondJSON(w, acceptedResponse{RequestID: req.ID, Kind: kind, NodeID: nodeID, Status: req.Status}, http.StatusAccepted)
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
