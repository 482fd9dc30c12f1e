// Package storage is the relational persistence adapter shared by the
// scraper, poller, and group fetcher. The schema itself is owned elsewhere;
// this package only issues the read-before-write upsert discipline the
// ingestion pipeline relies on.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pnthang/market-collector/pkg/models"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, which the snapshot path treats as "row already there".
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (pg *Postgres) Ping(ctx context.Context) error {
	return pg.db.Ping(ctx)
}

func (pg *Postgres) Close() {
	pg.db.Close()
}

// EnsureIndexMeta lazily creates one metadata row per code. Metadata is
// best-effort: a concurrent writer winning the race is not an error.
func (pg *Postgres) EnsureIndexMeta(ctx context.Context, metas []models.IndexMeta) error {
	for _, md := range metas {
		var exists bool
		err := pg.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM index_metadata WHERE code = $1)`, md.Code).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check metadata %s: %w", md.Code, err)
		}
		if exists {
			continue
		}
		_, err = pg.db.Exec(ctx,
			`INSERT INTO index_metadata (code, name, description, source) VALUES ($1, $2, $3, $4)`,
			md.Code, md.Name, md.Description, md.Source)
		if err != nil && !IsUniqueViolation(err) {
			return fmt.Errorf("insert metadata %s: %w", md.Code, err)
		}
	}
	return nil
}

// ExistingPricePairs returns the codes among the given set that already have
// a row at the given timestamp. All rows in a snapshot cycle share one
// timestamp, so the pair check reduces to a code-set lookup.
func (pg *Postgres) ExistingPricePairs(ctx context.Context, codes []string, ts time.Time) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(codes))
	if len(codes) == 0 {
		return existing, nil
	}

	rows, err := pg.db.Query(ctx,
		`SELECT index_code FROM index_prices WHERE index_code = ANY($1) AND timestamp = $2`,
		codes, ts)
	if err != nil {
		return nil, fmt.Errorf("query existing pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan existing pair: %w", err)
		}
		existing[code] = struct{}{}
	}
	return existing, rows.Err()
}

const insertPricePointSQL = `INSERT INTO index_prices (index_code, source, price, change, change_percent, timestamp)
VALUES ($1, $2, $3, $4, $5, $6)`

// InsertPricePoints writes all points in one transaction. A unique violation
// rolls the whole batch back; callers fall back to InsertPricePoint per row.
func (pg *Postgres) InsertPricePoints(ctx context.Context, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := pg.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, p := range points {
		b.Queue(insertPricePointSQL, p.IndexCode, p.Source, p.Price, p.Change, p.ChangePercent, p.Timestamp)
	}
	br := tx.SendBatch(ctx, b)
	for range points {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertPricePoint writes one row in its own transaction.
func (pg *Postgres) InsertPricePoint(ctx context.Context, p models.PricePoint) error {
	_, err := pg.db.Exec(ctx, insertPricePointSQL,
		p.IndexCode, p.Source, p.Price, p.Change, p.ChangePercent, p.Timestamp)
	return err
}

// SaveGroup persists the metadata and constituents captured for one group.
func (pg *Postgres) SaveGroup(ctx context.Context, meta models.IndexMeta, constituents []models.Constituent) error {
	if err := pg.EnsureIndexMeta(ctx, []models.IndexMeta{meta}); err != nil {
		return err
	}
	if len(constituents) == 0 {
		return nil
	}

	tx, err := pg.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replace the group's membership wholesale: constituents are a point-in-
	// time capture, not an append-only series.
	if _, err := tx.Exec(ctx, `DELETE FROM index_constituents WHERE index_code = $1`, meta.Code); err != nil {
		return fmt.Errorf("clear constituents: %w", err)
	}

	columns := []string{"index_code", "symbol", "name", "weight", "shares", "market_cap", "price"}
	entries := make([][]any, len(constituents))
	for i, c := range constituents {
		entries[i] = []any{c.IndexCode, c.Symbol, c.Name, c.Weight, c.Shares, c.MarketCap, c.Price}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"index_constituents"}, columns, pgx.CopyFromRows(entries)); err != nil {
		return fmt.Errorf("copy constituents: %w", err)
	}
	return tx.Commit(ctx)
}

// ListTracked returns the operator-maintained symbol list, newest first.
func (pg *Postgres) ListTracked(ctx context.Context) ([]models.TrackedSymbol, error) {
	rows, err := pg.db.Query(ctx,
		`SELECT symbol, COALESCE(name, ''), created_at FROM index_tracking ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tracked symbols: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedSymbol
	for rows.Next() {
		var ts models.TrackedSymbol
		if err := rows.Scan(&ts.Symbol, &ts.Name, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracked symbol: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
