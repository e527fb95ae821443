package mysql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"propenrich/internal/domain"
)

func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrF64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

// addressKey is the lookup key for an address; rows keep the address as entered.
func addressKey(address string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeAddress(address)))
	return hex.EncodeToString(sum[:])
}

// Repo is the downstream store: solar estimates and archived records.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Open connects with the settings the repo relies on (parseTime, UTC),
// whatever the DSN says.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return db, nil
}

func (r *Repo) AppendSolarEstimate(ctx context.Context, e domain.SolarEstimate) error {
	_, err := r.db.ExecContext(ctx, insertSolarEstimateSQL,
		e.Address,
		addressKey(e.Address),
		e.Coords.Lat,
		e.Coords.Lng,
		valF64(e.Result.SunshineHours),
		valInt(e.Result.MaxPanels),
		valF64(e.Result.MaxArrayArea),
		valF64(e.Result.CarbonOffset),
		e.FetchedAt.UTC(),
	)
	return err
}

// ListSolarEstimates returns up to limit estimates for address, newest first.
func (r *Repo) ListSolarEstimates(ctx context.Context, address string, limit int) ([]domain.SolarEstimate, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listSolarEstimatesSQL, addressKey(address), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SolarEstimate
	for rows.Next() {
		var e domain.SolarEstimate
		var sun, area, carbon sql.NullFloat64
		var panels sql.NullInt64
		if err := rows.Scan(&e.Address, &e.Coords.Lat, &e.Coords.Lng, &sun, &panels, &area, &carbon, &e.FetchedAt); err != nil {
			return nil, err
		}
		e.Result.SunshineHours = ptrF64(sun)
		e.Result.MaxArrayArea = ptrF64(area)
		e.Result.CarbonOffset = ptrF64(carbon)
		if panels.Valid {
			n := int(panels.Int64)
			e.Result.MaxPanels = &n
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) SaveRecord(ctx context.Context, a domain.ArchivedRecord) error {
	raw, err := json.Marshal(a.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertRecordSQL,
		addressKey(a.Address),
		a.Address,
		a.SessionID,
		string(raw),
		a.CompletedAt.UTC(),
	)
	return err
}

func (r *Repo) GetRecord(ctx context.Context, address string) (domain.ArchivedRecord, error) {
	var a domain.ArchivedRecord
	var raw []byte
	err := r.db.QueryRowContext(ctx, getRecordSQL, addressKey(address)).
		Scan(&a.SessionID, &a.Address, &raw, &a.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ArchivedRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ArchivedRecord{}, err
	}
	if err := json.Unmarshal(raw, &a.Record); err != nil {
		return domain.ArchivedRecord{}, fmt.Errorf("decode record %s: %w", a.SessionID, err)
	}
	if a.Record.Sources == nil {
		a.Record.Sources = map[string]map[domain.Field]any{}
	}
	return a, nil
}
