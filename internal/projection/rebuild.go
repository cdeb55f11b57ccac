package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const rebuildPageSize = 1000

// Rebuild truncates the mirror tables and replays the full event log
// through the same apply path the live worker uses.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE vault_projections.tickets`,
		`TRUNCATE vault_projections.epochs`,
		`TRUNCATE vault_projections.pool_state`,
		`DELETE FROM vault_projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	w := NewWorker(db, nil, log)

	var from int64
	var total int
	for {
		rows, err := loadPage(ctx, db, from, rebuildPageSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, out := range rows {
			if err := w.Apply(ctx, out); err != nil {
				return fmt.Errorf("replay sequence %d: %w", out.Sequence, err)
			}
			w.lastSeq = out.Sequence
		}
		total += len(rows)
		from = rows[len(rows)-1].Sequence + 1
	}

	log.Info().Int("events", total).Msg("projection rebuild complete")
	return nil
}

func loadPage(ctx context.Context, db *sql.DB, from int64, limit int) ([]Output, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, user_id, payload, state_delta, timestamp
		FROM vault_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []Output
	for rows.Next() {
		var out Output
		var ts time.Time
		if err := rows.Scan(&out.Sequence, &out.EventType, &out.UserID,
			&out.Payload, &out.StateDelta, &ts); err != nil {
			return nil, err
		}
		out.Timestamp = ts
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}
