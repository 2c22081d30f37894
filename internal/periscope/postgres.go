package periscope

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// PostgresBackend is the combined L2/L3 (warm/cold) Backend, distinguishing
// tiers by the tier column on each row: positional placeholders built up
// alongside an args slice and INSERT ... ON CONFLICT DO UPDATE for upserts.
// No query takes row locks; per-item write serialization comes from
// Periscope's striped key locks.
type PostgresBackend struct {
	db   *sqlx.DB
	tier intel.Tier
}

// NewPostgresBackend returns a Backend bound to a single tier (intel.TierL2
// or intel.TierL3); callers construct two instances over the same *sqlx.DB, one per
// tier, mirroring the Redis backend's one-instance-per-tier shape.
func NewPostgresBackend(db *sqlx.DB, tier intel.Tier) *PostgresBackend {
	return &PostgresBackend{db: db, tier: tier}
}

type itemRow struct {
	ItemID        string         `db:"item_id"`
	Fingerprint   int64          `db:"fingerprint"`
	Tier          string         `db:"tier"`
	Category      string         `db:"category"`
	Severity      string         `db:"severity"`
	Score         int            `db:"score"`
	Confidence    float64        `db:"confidence"`
	Validated     bool           `db:"validated"`
	IndustryTags  pq.StringArray `db:"industry_tags"`
	PublishedAt   time.Time      `db:"published_at"`
	FirstSeen     time.Time      `db:"first_seen"`
	LastSeen      time.Time      `db:"last_seen"`
	TierEnteredAt time.Time      `db:"tier_entered_at"`
	Payload       []byte         `db:"payload"`
}

func rowFromItem(item *intel.Item) (itemRow, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return itemRow{}, fmt.Errorf("postgres backend: encode payload: %w", err)
	}
	return itemRow{
		ItemID:        item.ItemID,
		Fingerprint:   int64(item.Fingerprint),
		Tier:          string(item.Tier),
		Category:      string(item.Category),
		Severity:      string(item.Severity),
		Score:         item.Score,
		Confidence:    item.Confidence,
		Validated:     item.Validated,
		IndustryTags:  pq.StringArray(item.IndustryTags),
		PublishedAt:   item.PublishedAt,
		FirstSeen:     item.FirstSeen,
		LastSeen:      item.LastSeen,
		TierEnteredAt: item.TierEnteredAt,
		Payload:       payload,
	}, nil
}

func itemFromRow(row itemRow) (*intel.Item, error) {
	var item intel.Item
	if err := json.Unmarshal(row.Payload, &item); err != nil {
		return nil, fmt.Errorf("postgres backend: decode payload: %w", err)
	}
	return &item, nil
}

func (b *PostgresBackend) Get(ctx context.Context, itemID string) (*intel.Item, bool, error) {
	var row itemRow
	err := b.db.GetContext(ctx, &row,
		`SELECT item_id, fingerprint, tier, category, severity, score, confidence,
		        validated, industry_tags, published_at, first_seen, last_seen,
		        tier_entered_at, payload
		   FROM periscope_items
		  WHERE item_id = $1 AND tier = $2`,
		itemID, string(b.tier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres backend: get: %w", err)
	}
	item, err := itemFromRow(row)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// Put upserts the item's row for this tier.
func (b *PostgresBackend) Put(ctx context.Context, item *intel.Item) error {
	row, err := rowFromItem(item)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO periscope_items (
			item_id, fingerprint, tier, category, severity, score, confidence,
			validated, industry_tags, published_at, first_seen, last_seen,
			tier_entered_at, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (item_id, tier) DO UPDATE SET
			fingerprint     = EXCLUDED.fingerprint,
			category        = EXCLUDED.category,
			severity        = EXCLUDED.severity,
			score           = EXCLUDED.score,
			confidence      = EXCLUDED.confidence,
			validated       = EXCLUDED.validated,
			industry_tags   = EXCLUDED.industry_tags,
			published_at    = EXCLUDED.published_at,
			first_seen      = EXCLUDED.first_seen,
			last_seen       = EXCLUDED.last_seen,
			tier_entered_at = EXCLUDED.tier_entered_at,
			payload         = EXCLUDED.payload`,
		row.ItemID, row.Fingerprint, row.Tier, row.Category, row.Severity, row.Score,
		row.Confidence, row.Validated, row.IndustryTags, row.PublishedAt, row.FirstSeen,
		row.LastSeen, row.TierEnteredAt, row.Payload)
	if err != nil {
		return fmt.Errorf("postgres backend: upsert: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, itemID string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM periscope_items WHERE item_id = $1 AND tier = $2`,
		itemID, string(b.tier))
	if err != nil {
		return fmt.Errorf("postgres backend: delete: %w", err)
	}
	return nil
}

// Query builds a dynamic WHERE clause from filter, composing positional
// placeholders alongside an args slice rather than string-concatenating
// values into SQL.
func (b *PostgresBackend) Query(ctx context.Context, filter Filter) ([]intel.Item, int, error) {
	clauses := []string{"tier = $1"}
	args := []any{string(b.tier)}

	addClause := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Severity != "" {
		addClause("severity = $%d", string(filter.Severity))
	}
	if filter.MinScore != 0 {
		addClause("score >= $%d", filter.MinScore)
	}
	if filter.MaxScore != 0 {
		addClause("score <= $%d", filter.MaxScore)
	}
	if filter.Category != "" {
		addClause("category = $%d", string(filter.Category))
	}
	if filter.Tag != "" {
		addClause("$%d = ANY(industry_tags)", filter.Tag)
	}
	if filter.SourceID != "" {
		addClause("payload::jsonb -> 'sources' @> $%d", fmt.Sprintf(`[{"source_id":%q}]`, filter.SourceID))
	}

	query := fmt.Sprintf(`SELECT item_id, fingerprint, tier, category, severity, score,
	       confidence, validated, industry_tags, published_at, first_seen, last_seen,
	       tier_entered_at, payload
	  FROM periscope_items WHERE %s
	 ORDER BY score DESC, last_seen DESC, item_id ASC`, strings.Join(clauses, " AND "))

	var rows []itemRow
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("postgres backend: query: %w", err)
	}

	items := make([]intel.Item, 0, len(rows))
	for _, row := range rows {
		item, err := itemFromRow(row)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *item)
	}
	return items, len(items), nil
}

// FindByFingerprintNear satisfies FingerprintSearcher for the Deduper's
// cold lookup. Hamming distance isn't expressible in SQL, so this
// first tries an exact match (indexed, cheap), then falls back to a
// bounded recent-row scan computed in Go.
func (b *PostgresBackend) FindByFingerprintNear(ctx context.Context, fingerprint uint64, maxDistance int) (*intel.Item, error) {
	var exact itemRow
	err := b.db.GetContext(ctx, &exact,
		`SELECT item_id, fingerprint, tier, category, severity, score, confidence,
		        validated, industry_tags, published_at, first_seen, last_seen,
		        tier_entered_at, payload
		   FROM periscope_items WHERE tier = $1 AND fingerprint = $2 LIMIT 1`,
		string(b.tier), int64(fingerprint))
	if err == nil {
		return itemFromRow(exact)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres backend: exact fingerprint lookup: %w", err)
	}

	const scanLimit = 2000
	var candidates []itemRow
	if err := b.db.SelectContext(ctx, &candidates,
		`SELECT item_id, fingerprint, tier, category, severity, score, confidence,
		        validated, industry_tags, published_at, first_seen, last_seen,
		        tier_entered_at, payload
		   FROM periscope_items WHERE tier = $1
		  ORDER BY last_seen DESC LIMIT $2`,
		string(b.tier), scanLimit); err != nil {
		return nil, fmt.Errorf("postgres backend: candidate scan: %w", err)
	}

	for _, row := range candidates {
		if intel.HammingDistance64(uint64(row.Fingerprint), fingerprint) <= maxDistance {
			return itemFromRow(row)
		}
	}
	return nil, nil
}
