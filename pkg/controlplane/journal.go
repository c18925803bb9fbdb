package controlplane

// Journal records provisioning and teardown progress per node. Journals are
// an audit trail only; node state is always re-read from the platform.
type Journal interface {
	AppendEvent(nodeID string, status NodeStatus, message string)
	GetEvents(nodeID string) []NodeEvent
	// Forget drops a node's events once it has been fully torn down.
	Forget(nodeID string) error
}

var _ Journal = (*FileJournal)(nil)
