package controlplane

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresJournal stores node events in Postgres.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	j := &PostgresJournal{db: db}
	if err := j.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *PostgresJournal) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS provisioner_events (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    status TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS provisioner_events_node_idx ON provisioner_events (node_id, created_at);
`
	_, err := j.db.Exec(schema)
	return err
}

func (j *PostgresJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *PostgresJournal) AppendEvent(nodeID string, status NodeStatus, message string) {
	eventID := uuid.NewString()
	_, err := j.db.Exec(`INSERT INTO provisioner_events (id, node_id, status, message, created_at) VALUES ($1,$2,$3,$4,$5)`,
		eventID, nodeID, status, message, time.Now().UTC())
	if err != nil {
		fmt.Printf("append event error: %v\n", err)
	}
}

func (j *PostgresJournal) GetEvents(nodeID string) []NodeEvent {
	rows, err := j.db.Query(`SELECT id, status, message, created_at FROM provisioner_events WHERE node_id=$1 ORDER BY created_at ASC`, nodeID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var events []NodeEvent
	for rows.Next() {
		var ev NodeEvent
		if err := rows.Scan(&ev.ID, &ev.Status, &ev.Message, &ev.CreatedAt); err != nil {
			continue
		}
		ev.NodeID = nodeID
		events = append(events, ev)
	}
	return events
}

func (j *PostgresJournal) Forget(nodeID string) error {
	_, err := j.db.Exec(`DELETE FROM provisioner_events WHERE node_id=$1`, nodeID)
	return err
}

var _ Journal = (*PostgresJournal)(nil)
