package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/getdoover/digital-matter/core/csql"
)

// PostgresStore is a Store backed by a postgres database. Aggregates live in
// the "_channel_" table, message histories in "_channel_log_".
type PostgresStore struct {
	db *csql.DB
}

// MustNewPostgresStore creates the sql relations (if they do not exist)
// and returns the store.
func MustNewPostgresStore(db *csql.DB) *PostgresStore {
	if db == nil {
		panic("DB is missing")
	}

	// poor man's database migrations
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."_channel_"
(agent_id varchar NOT NULL,
name varchar NOT NULL,
aggregate json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(agent_id, name)
);
CREATE table IF NOT EXISTS ` + db.Schema + `."_channel_log_"
(message_id uuid NOT NULL,
agent_id varchar NOT NULL,
name varchar NOT NULL,
payload json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(message_id)
);
CREATE INDEX IF NOT EXISTS channel_log_window ON ` + db.Schema + `."_channel_log_"(agent_id, name, timestamp);`)

	if err != nil {
		panic(err)
	}
	return &PostgresStore{db: db}
}

// GetAggregate implements Store.
func (s *PostgresStore) GetAggregate(ctx context.Context, agentID, name string) (Document, error) {
	var raw json.RawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate FROM `+s.db.Schema+`."_channel_" WHERE agent_id=$1 AND name=$2;`,
		agentID, name).Scan(&raw)
	if err == csql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read aggregate of %s/%s: %w", agentID, name, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt aggregate of %s/%s: %w", agentID, name, err)
	}
	return doc, nil
}

// Publish implements Store. The aggregate merge happens read-modify-write;
// concurrent publishers race with last-publish-wins.
func (s *PostgresStore) Publish(ctx context.Context, agentID, name string, doc Document, saveLog bool) error {
	aggregate, err := s.GetAggregate(ctx, agentID, name)
	if err != nil && err != ErrNotFound {
		return err
	}
	merged, err := json.Marshal(MergeAggregate(aggregate, doc))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`."_channel_"(agent_id,name,aggregate,timestamp)
VALUES($1,$2,$3,$4)
ON CONFLICT (agent_id, name) DO UPDATE SET aggregate=$3,timestamp=$4;`,
		agentID, name, string(merged), now)
	if err != nil {
		return fmt.Errorf("cannot publish to %s/%s: %w", agentID, name, err)
	}

	if !saveLog {
		return nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	id, _ := uuid.NewUUID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`."_channel_log_"(message_id,agent_id,name,payload,timestamp)
VALUES($1,$2,$3,$4,$5);`,
		id, agentID, name, string(payload), now)
	if err != nil {
		return fmt.Errorf("cannot log message on %s/%s: %w", agentID, name, err)
	}
	return nil
}

// MessagesInWindow implements Store.
func (s *PostgresStore) MessagesInWindow(ctx context.Context, agentID, name string, start, end time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id,payload,timestamp FROM `+s.db.Schema+`."_channel_log_"
WHERE agent_id=$1 AND name=$2 AND timestamp>=$3 AND timestamp<$4 ORDER BY timestamp;`,
		agentID, name, start, end)
	if err != nil {
		return nil, fmt.Errorf("cannot read messages of %s/%s: %w", agentID, name, err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var (
			m   Message
			raw json.RawMessage
		)
		if err := rows.Scan(&m.ID, &raw, &m.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m.Payload); err != nil {
			return nil, fmt.Errorf("corrupt message %s on %s/%s: %w", m.ID, agentID, name, err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
