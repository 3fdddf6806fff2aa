package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/pkg/logger"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInvalidAmount       = errors.New("debit amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient pool balance")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		hash TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT,
		contributor TEXT,
		raw_text TEXT NOT NULL,
		word_count INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		novelty INTEGER DEFAULT 0,
		density INTEGER DEFAULT 0,
		coherence INTEGER DEFAULT 0,
		alignment INTEGER DEFAULT 0,
		composite INTEGER DEFAULT 0,
		final INTEGER DEFAULT 0,
		redundancy_percent REAL DEFAULT 0,
		qualified_epoch INTEGER DEFAULT 0,
		metal_weights TEXT,
		embedding TEXT,
		embedding_model TEXT,
		embedding_source TEXT,
		point_x REAL,
		point_y REAL,
		point_z REAL,
		evaluation_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
	CREATE INDEX IF NOT EXISTS idx_submissions_epoch ON submissions(qualified_epoch);

	CREATE TABLE IF NOT EXISTS archive_entries (
		hash TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		embedding TEXT,
		point_x REAL,
		point_y REAL,
		point_z REAL,
		novelty INTEGER DEFAULT 0,
		density INTEGER DEFAULT 0,
		coherence INTEGER DEFAULT 0,
		alignment INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metal_pools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metal TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		initial_balance INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(metal, epoch)
	);
	CREATE INDEX IF NOT EXISTS idx_pools_metal_epoch ON metal_pools(metal, epoch);

	CREATE TABLE IF NOT EXISTS epoch_pointer (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		epoch INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_hash TEXT NOT NULL,
		contributor TEXT,
		metal TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_submission ON allocations(submission_hash);
	CREATE INDEX IF NOT EXISTS idx_allocations_metal ON allocations(metal);

	CREATE TABLE IF NOT EXISTS tokenomics_totals (
		metal TEXT PRIMARY KEY,
		total INTEGER NOT NULL DEFAULT 0,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		submission_hash TEXT,
		event_type TEXT NOT NULL,
		status TEXT,
		payload TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_submission ON audit_events(submission_hash);
	CREATE INDEX IF NOT EXISTS idx_events_created ON audit_events(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSubmission(sub *models.Submission) error {
	query := `
		INSERT INTO submissions (hash, title, category, contributor, raw_text, word_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`

	_, err := c.db.Exec(
		query,
		sub.Hash,
		sub.Title,
		sub.Category,
		sub.Contributor,
		sub.RawText,
		sub.WordCount,
		sub.Status,
		sub.CreatedAt.Unix(),
		sub.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	logger.Debug("Submission inserted", zap.String("hash", sub.Hash))
	return nil
}

func (c *Client) UpdateSubmissionStatus(hash string, status models.SubmissionStatus, evalError string) error {
	query := `UPDATE submissions SET status = ?, evaluation_error = ?, updated_at = ? WHERE hash = ?`

	res, err := c.db.Exec(query, status, evalError, time.Now().Unix(), hash)
	if err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (c *Client) SaveEvaluation(sub *models.Submission) error {
	weightsJSON, _ := json.Marshal(sub.MetalWeights)
	embeddingJSON, _ := json.Marshal(sub.Embedding)

	var px, py, pz interface{}
	if sub.Point != nil {
		px, py, pz = sub.Point.X, sub.Point.Y, sub.Point.Z
	}

	query := `
		UPDATE submissions SET
			status = ?,
			novelty = ?, density = ?, coherence = ?, alignment = ?,
			composite = ?, final = ?,
			redundancy_percent = ?, qualified_epoch = ?,
			metal_weights = ?,
			embedding = ?, embedding_model = ?, embedding_source = ?,
			point_x = ?, point_y = ?, point_z = ?,
			evaluation_error = ?,
			updated_at = ?
		WHERE hash = ?
	`

	res, err := c.db.Exec(
		query,
		sub.Status,
		sub.Novelty, sub.Density, sub.Coherence, sub.Alignment,
		sub.Composite, sub.Final,
		sub.RedundancyPercent, sub.QualifiedEpoch,
		string(weightsJSON),
		string(embeddingJSON), sub.EmbeddingModel, sub.EmbeddingSource,
		px, py, pz,
		sub.EvaluationError,
		time.Now().Unix(),
		sub.Hash,
	)

	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (c *Client) GetSubmission(hash string) (*models.Submission, error) {
	query := `
		SELECT hash, title, category, contributor, raw_text, word_count, status,
			novelty, density, coherence, alignment, composite, final,
			redundancy_percent, qualified_epoch, metal_weights,
			embedding, embedding_model, embedding_source,
			point_x, point_y, point_z, evaluation_error,
			created_at, updated_at
		FROM submissions WHERE hash = ?
	`

	var sub models.Submission
	var category, contributor, weightsJSON, embeddingJSON, embModel, embSource, evalErr sql.NullString
	var px, py, pz sql.NullFloat64
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, hash).Scan(
		&sub.Hash, &sub.Title, &category, &contributor, &sub.RawText, &sub.WordCount, &sub.Status,
		&sub.Novelty, &sub.Density, &sub.Coherence, &sub.Alignment, &sub.Composite, &sub.Final,
		&sub.RedundancyPercent, &sub.QualifiedEpoch, &weightsJSON,
		&embeddingJSON, &embModel, &embSource,
		&px, &py, &pz, &evalErr,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	sub.Category = category.String
	sub.Contributor = contributor.String
	sub.EmbeddingModel = embModel.String
	sub.EmbeddingSource = embSource.String
	sub.EvaluationError = evalErr.String

	if weightsJSON.Valid && weightsJSON.String != "" {
		json.Unmarshal([]byte(weightsJSON.String), &sub.MetalWeights)
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		json.Unmarshal([]byte(embeddingJSON.String), &sub.Embedding)
	}
	if px.Valid && py.Valid && pz.Valid {
		sub.Point = &models.Point3D{X: px.Float64, Y: py.Float64, Z: pz.Float64}
	}

	sub.CreatedAt = time.Unix(createdAt, 0)
	sub.UpdatedAt = time.Unix(updatedAt, 0)

	return &sub, nil
}

func (c *Client) InsertArchiveEntry(entry *models.ArchiveEntry) error {
	embeddingJSON, _ := json.Marshal(entry.Embedding)

	var px, py, pz interface{}
	if entry.Point != nil {
		px, py, pz = entry.Point.X, entry.Point.Y, entry.Point.Z
	}

	query := `
		INSERT OR IGNORE INTO archive_entries
			(hash, title, embedding, point_x, point_y, point_z, novelty, density, coherence, alignment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		entry.Hash,
		entry.Title,
		string(embeddingJSON),
		px, py, pz,
		entry.Novelty, entry.Density, entry.Coherence, entry.Alignment,
		entry.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert archive entry: %w", err)
	}

	return nil
}

func (c *Client) ListArchiveEntries() ([]models.ArchiveEntry, error) {
	query := `
		SELECT hash, title, embedding, point_x, point_y, point_z,
			novelty, density, coherence, alignment, created_at
		FROM archive_entries
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive entries: %w", err)
	}
	defer rows.Close()

	return scanArchiveEntries(rows)
}

func (c *Client) GetArchiveEntriesByHashes(hashes []string) ([]models.ArchiveEntry, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, len(hashes))
	for i, h := range hashes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = h
	}

	query := fmt.Sprintf(`
		SELECT hash, title, embedding, point_x, point_y, point_z,
			novelty, density, coherence, alignment, created_at
		FROM archive_entries WHERE hash IN (%s)
	`, placeholders)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive entries: %w", err)
	}
	defer rows.Close()

	return scanArchiveEntries(rows)
}

func scanArchiveEntries(rows *sql.Rows) ([]models.ArchiveEntry, error) {
	var entries []models.ArchiveEntry
	for rows.Next() {
		var e models.ArchiveEntry
		var embeddingJSON sql.NullString
		var px, py, pz sql.NullFloat64
		var createdAt int64

		err := rows.Scan(
			&e.Hash, &e.Title, &embeddingJSON, &px, &py, &pz,
			&e.Novelty, &e.Density, &e.Coherence, &e.Alignment, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			json.Unmarshal([]byte(embeddingJSON.String), &e.Embedding)
		}
		if px.Valid && py.Valid && pz.Valid {
			e.Point = &models.Point3D{X: px.Float64, Y: py.Float64, Z: pz.Float64}
		}

		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SeedPools creates the (metal, epoch) pool grid with fixed starting
// balances. Existing pools are never re-created or reset.
func (c *Client) SeedPools(epochCount int, balances map[models.Metal]int64) error {
	now := time.Now().Unix()

	query := `
		INSERT OR IGNORE INTO metal_pools (metal, epoch, balance, initial_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	for epoch := 1; epoch <= epochCount; epoch++ {
		for metal, balance := range balances {
			_, err := c.db.Exec(query, metal, epoch, balance, balance, now, now)
			if err != nil {
				return fmt.Errorf("failed to seed pool %s/%d: %w", metal, epoch, err)
			}
		}
	}

	_, err := c.db.Exec(`INSERT OR IGNORE INTO epoch_pointer (id, epoch) VALUES (1, 1)`)
	if err != nil {
		return fmt.Errorf("failed to seed epoch pointer: %w", err)
	}

	logger.Info("Metal pools seeded", zap.Int("epochs", epochCount))
	return nil
}

func (c *Client) FindPoolWithBalance(metal models.Metal, minEpoch int) (*models.MetalPool, error) {
	query := `
		SELECT id, metal, epoch, balance, initial_balance, created_at, updated_at
		FROM metal_pools
		WHERE metal = ? AND epoch >= ? AND balance > 0
		ORDER BY epoch ASC
		LIMIT 1
	`

	pool, err := c.scanPool(c.db.QueryRow(query, metal, minEpoch))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pool: %w", err)
	}

	return pool, nil
}

func (c *Client) GetPool(id int64) (*models.MetalPool, error) {
	query := `
		SELECT id, metal, epoch, balance, initial_balance, created_at, updated_at
		FROM metal_pools WHERE id = ?
	`

	pool, err := c.scanPool(c.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	return pool, nil
}

func (c *Client) ListPools() ([]models.MetalPool, error) {
	query := `
		SELECT id, metal, epoch, balance, initial_balance, created_at, updated_at
		FROM metal_pools ORDER BY epoch ASC, metal ASC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []models.MetalPool
	for rows.Next() {
		var p models.MetalPool
		var createdAt, updatedAt int64
		err := rows.Scan(&p.ID, &p.Metal, &p.Epoch, &p.Balance, &p.InitialBalance, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		pools = append(pools, p)
	}

	return pools, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanPool(row rowScanner) (*models.MetalPool, error) {
	var p models.MetalPool
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Metal, &p.Epoch, &p.Balance, &p.InitialBalance, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// DebitPool is the only code path that mutates a pool balance. The
// decrement is a single conditional UPDATE guarded by the current
// balance, so concurrent debits can never overdraw the pool.
func (c *Client) DebitPool(poolID int64, amount int64) (balanceBefore, balanceAfter int64, err error) {
	if amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	tx, err := c.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE metal_pools SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?`,
		amount, time.Now().Unix(), poolID, amount,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to debit pool: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return 0, 0, ErrInsufficientBalance
	}

	err = tx.QueryRow(`SELECT balance FROM metal_pools WHERE id = ?`, poolID).Scan(&balanceAfter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read balance after debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit debit: %w", err)
	}

	balanceBefore = balanceAfter + amount

	logger.Debug("Pool debited",
		zap.Int64("pool_id", poolID),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", balanceAfter),
	)

	return balanceBefore, balanceAfter, nil
}

func (c *Client) GetEpochPointer() (int, error) {
	var epoch int
	err := c.db.QueryRow(`SELECT epoch FROM epoch_pointer WHERE id = 1`).Scan(&epoch)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get epoch pointer: %w", err)
	}
	return epoch, nil
}

// AdvanceEpochPointerTo moves the pointer forward only. Requests at or
// behind the current pointer are silently ignored.
func (c *Client) AdvanceEpochPointerTo(epoch int) (bool, error) {
	res, err := c.db.Exec(`UPDATE epoch_pointer SET epoch = ? WHERE id = 1 AND epoch < ?`, epoch, epoch)
	if err != nil {
		return false, fmt.Errorf("failed to advance epoch pointer: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// NextEpochWithBalance returns the first epoch after the given one that
// still has a positive balance in any metal, or 0 when all later pools
// are exhausted.
func (c *Client) NextEpochWithBalance(after int) (int, error) {
	var next sql.NullInt64
	err := c.db.QueryRow(
		`SELECT MIN(epoch) FROM metal_pools WHERE epoch > ? AND balance > 0`, after,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to find next epoch with balance: %w", err)
	}

	if !next.Valid {
		return 0, nil
	}
	return int(next.Int64), nil
}

func (c *Client) EpochHasBalance(epoch int) (bool, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM metal_pools WHERE epoch = ? AND balance > 0`, epoch,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check epoch balance: %w", err)
	}
	return count > 0, nil
}

func (c *Client) InsertAllocation(a *models.Allocation) (int64, error) {
	query := `
		INSERT INTO allocations
			(submission_hash, contributor, metal, epoch, amount, balance_before, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.Exec(
		query,
		a.SubmissionHash,
		a.Contributor,
		a.Metal,
		a.Epoch,
		a.Amount,
		a.BalanceBefore,
		a.BalanceAfter,
		a.CreatedAt.Unix(),
	)

	if err != nil {
		return 0, fmt.Errorf("failed to insert allocation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get allocation id: %w", err)
	}

	logger.Info("Allocation recorded",
		zap.String("submission", a.SubmissionHash),
		zap.String("metal", string(a.Metal)),
		zap.Int("epoch", a.Epoch),
		zap.Int64("amount", a.Amount),
	)

	return id, nil
}

func (c *Client) AllocationsForSubmission(hash string) ([]models.Allocation, error) {
	query := `
		SELECT id, submission_hash, contributor, metal, epoch, amount, balance_before, balance_after, created_at
		FROM allocations WHERE submission_hash = ? ORDER BY id ASC
	`

	rows, err := c.db.Query(query, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get allocations: %w", err)
	}
	defer rows.Close()

	var allocations []models.Allocation
	for rows.Next() {
		var a models.Allocation
		var contributor sql.NullString
		var createdAt int64

		err := rows.Scan(&a.ID, &a.SubmissionHash, &contributor, &a.Metal, &a.Epoch,
			&a.Amount, &a.BalanceBefore, &a.BalanceAfter, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Contributor = contributor.String
		a.CreatedAt = time.Unix(createdAt, 0)
		allocations = append(allocations, a)
	}

	return allocations, rows.Err()
}

func (c *Client) HasAllocations(hash string) (bool, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM allocations WHERE submission_hash = ?`, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check allocations: %w", err)
	}
	return count > 0, nil
}

func (c *Client) AddToAggregate(metal models.Metal, amount int64) error {
	query := `
		INSERT INTO tokenomics_totals (metal, total, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(metal) DO UPDATE SET
			total = total + excluded.total,
			count = count + 1,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query, metal, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to update aggregate: %w", err)
	}

	return nil
}

func (c *Client) GetAggregate() (*models.TokenomicsAggregate, error) {
	rows, err := c.db.Query(`SELECT metal, total, count, updated_at FROM tokenomics_totals`)
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregates: %w", err)
	}
	defer rows.Close()

	agg := &models.TokenomicsAggregate{
		PerMetal: make(map[models.Metal]int64),
	}

	for rows.Next() {
		var metal models.Metal
		var total, count, updatedAt int64

		if err := rows.Scan(&metal, &total, &count, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		agg.PerMetal[metal] = total
		agg.TotalAllocated += total
		agg.AllocationCount += count
		if ts := time.Unix(updatedAt, 0); ts.After(agg.UpdatedAt) {
			agg.UpdatedAt = ts
		}
	}

	return agg, rows.Err()
}

// RebuildAggregate recomputes the totals cache from the allocation
// ledger, which is the source of truth.
func (c *Client) RebuildAggregate() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tokenomics_totals`); err != nil {
		return fmt.Errorf("failed to clear aggregates: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO tokenomics_totals (metal, total, count, updated_at)
		SELECT metal, SUM(amount), COUNT(*), ? FROM allocations GROUP BY metal
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to rebuild aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}

	logger.Info("Tokenomics aggregate rebuilt from allocation ledger")
	return nil
}

func (c *Client) InsertAuditEvent(event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, submission_hash, event_type, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		event.ID,
		event.SubmissionHash,
		event.EventType,
		event.Status,
		event.Payload,
		event.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

func (c *Client) ListAuditEvents(limit int) ([]models.AuditEvent, error) {
	query := `
		SELECT id, submission_hash, event_type, status, payload, created_at
		FROM audit_events ORDER BY created_at DESC, id DESC LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var submissionHash, status, payload sql.NullString
		var createdAt int64

		err := rows.Scan(&e.ID, &submissionHash, &e.EventType, &status, &payload, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.SubmissionHash = submissionHash.String
		e.Status = status.String
		e.Payload = payload.String
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}

	return events, rows.Err()
}
