package consumer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/ports"
)

var (
	_ ports.Consumer = (*TimescaleConsumer)(nil)
	_ ports.Consumer = (*ChannelConsumer)(nil)
	_ ports.Consumer = (*CallbackConsumer)(nil)
)

// TimescaleConsumer batch-inserts delivered samples into a TimescaleDB
// hypertable, grounded on internal/adapters/sink/timescale_sink.go's
// parameterized multi-row INSERT ... ON CONFLICT DO NOTHING, idempotent on
// (list_index, ts).
type TimescaleConsumer struct {
	db    *sql.DB
	table string
}

// NewTimescaleConsumer returns a consumer writing into table via db.
func NewTimescaleConsumer(db *sql.DB, table string) *TimescaleConsumer {
	return &TimescaleConsumer{db: db, table: table}
}

// Name identifies this consumer for logging.
func (t *TimescaleConsumer) Name() string { return "timescaledb" }

// Deliver implements ports.Consumer.
func (t *TimescaleConsumer) Deliver(samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.table)
	b.WriteString(" (list_index, ts, precise, values) VALUES ")

	args := make([]any, 0, len(samples)*4)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4))

		vals, err := json.Marshal(s.Values)
		if err != nil {
			return fmt.Errorf("marshal values: %w", err)
		}
		args = append(args, s.ListIndex, s.Timestamp, s.Precise, vals)
	}

	b.WriteString(" ON CONFLICT (list_index, ts) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}
