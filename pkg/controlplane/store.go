package controlplane

import (
	encodingjson "encoding/json"
	errors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileJournal keeps node events in memory and, when path is set, mirrors them
// to a JSON file.
type FileJournal struct {
	path   string
	mu     sync.RWMutex
	events map[string][]NodeEvent
}

type persistContainer struct {
	Nodes  []string      `json:"nodes"`
	Events [][]NodeEvent `json:"events"`
}

// NewFileJournal loads path if it exists. An empty path keeps events in memory only.
func NewFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{
		path:   path,
		events: make(map[string][]NodeEvent),
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) load() error {
	if j.path == "" {
		return nil
	}
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var container persistContainer
	if err := encodingjson.Unmarshal(data, &container); err != nil {
		return fmt.Errorf("parse node journal: %w", err)
	}
	for idx, nodeID := range container.Nodes {
		if idx < len(container.Events) {
			j.events[nodeID] = container.Events[idx]
		}
	}
	return nil
}

func (j *FileJournal) save() error {
	if j.path == "" {
		return nil
	}
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	container := persistContainer{}
	ids := make([]string, 0, len(j.events))
	for id := range j.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		container.Nodes = append(container.Nodes, id)
		container.Events = append(container.Events, append([]NodeEvent(nil), j.events[id]...))
	}
	payload, err := encodingjson.MarshalIndent(container, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}

func (j *FileJournal) AppendEvent(nodeID string, status NodeStatus, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[nodeID] = append(j.events[nodeID], NodeEvent{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	_ = j.save()
}

func (j *FileJournal) GetEvents(nodeID string) []NodeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]NodeEvent(nil), j.events[nodeID]...)
}

func (j *FileJournal) Forget(nodeID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.events[nodeID]; !ok {
		return nil
	}
	delete(j.events, nodeID)
	return j.save()
}
