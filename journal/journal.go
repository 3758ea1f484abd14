package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cardgen/dispatch"
	"cardgen/logging"
)

// writeBuffer is the number of pending outcome writes the journal buffers
// before dropping. Dropping a journal row is preferable to stalling a
// dispatcher worker.
const writeBuffer = 100

// drainTimeout bounds the flush of pending writes during Close.
const drainTimeout = 10 * time.Second

// Entry is one journal row.
type Entry struct {
	RequestID  string
	UserID     string
	Class      string
	Attempts   int
	Source     string
	Delivered  bool
	Latency    time.Duration
	FinishedAt time.Time
}

// Journal is the SQLite outcome journal. It implements dispatch.OutcomeSink
// with a non-blocking Record; the actual insert happens on a background
// worker.
type Journal struct {
	db     *sql.DB
	logger *logging.Logger

	writeCh chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the journal database, applies migrations, and
// starts the write-behind worker.
func Open(path, migrationsPath string, logger *logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := openDatabase(DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:      db,
		logger:  logger.Named("journal"),
		writeCh: make(chan Entry, writeBuffer),
		done:    make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

// Record queues one outcome for writing. Never blocks: when the buffer is
// full the row is dropped and counted in the logs.
func (j *Journal) Record(o dispatch.Outcome) {
	entry := Entry{
		RequestID:  o.RequestID,
		UserID:     o.UserID,
		Class:      string(o.Class),
		Attempts:   o.Attempts,
		Source:     string(o.Source),
		Delivered:  o.Delivered,
		Latency:    o.Latency,
		FinishedAt: o.FinishedAt,
	}

	select {
	case j.writeCh <- entry:
	default:
		j.logger.Warnw("journal buffer full, outcome dropped",
			zap.String("request_id", o.RequestID))
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case entry := <-j.writeCh:
			if err := j.insert(entry); err != nil {
				j.logger.Errorw("journal insert failed",
					zap.String("request_id", entry.RequestID), zap.Error(err))
			}
		case <-j.done:
			j.drain()
			return
		}
	}
}

// drain writes whatever is still buffered, bounded by drainTimeout.
func (j *Journal) drain() {
	deadline := time.Now().Add(drainTimeout)
	for {
		select {
		case entry := <-j.writeCh:
			if time.Now().After(deadline) {
				j.logger.Warn("journal drain timeout, dropping remaining writes")
				return
			}
			if err := j.insert(entry); err != nil {
				j.logger.Errorw("journal insert failed during drain", zap.Error(err))
			}
		default:
			return
		}
	}
}

func (j *Journal) insert(e Entry) error {
	_, err := j.db.Exec(`
		INSERT INTO outcomes (request_id, user_id, class, attempts, source, delivered, latency_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		e.RequestID, e.UserID, e.Class, e.Attempts, e.Source,
		boolToInt(e.Delivered), e.Latency.Milliseconds(), e.FinishedAt.UTC())
	return err
}

// RecentOutcomes returns the newest rows, up to limit.
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT request_id, user_id, class, attempts, source, delivered, latency_ms, finished_at
		FROM outcomes
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var delivered int
		var latencyMS int64
		if err := rows.Scan(&e.RequestID, &e.UserID, &e.Class, &e.Attempts,
			&e.Source, &delivered, &latencyMS, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("journal: scan outcome: %w", err)
		}
		e.Delivered = delivered != 0
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneOlderThan deletes rows whose finished_at is older than the given age.
// Returns the number of deleted rows.
func (j *Journal) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC()
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// StartPruner runs PruneOlderThan on the given interval until ctx is
// cancelled.
func (j *Journal) StartPruner(ctx context.Context, interval, maxAge time.Duration) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				deleted, err := j.PruneOlderThan(pruneCtx, maxAge)
				cancel()
				if err != nil {
					j.logger.Errorw("journal prune failed", zap.Error(err))
				} else if deleted > 0 {
					j.logger.Infow("journal pruned", zap.Int64("rows", deleted))
				}
			case <-ctx.Done():
				return
			case <-j.done:
				return
			}
		}
	}()
}

// Close flushes pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()
	return j.db.Close()
}

// Ensure Journal implements the dispatcher's sink at compile time.
var _ dispatch.OutcomeSink = (*Journal)(nil)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
