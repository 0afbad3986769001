// ABOUTME: Schema catalog over a MetadataSource, serving prompt-ready table info.
// ABOUTME: Mines classifier keywords from schema text; serves stale data when the source is down.

package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/2389/askdb-gateway/internal/db"
)

// DefaultTTL bounds how long schema metadata is served without re-checking
// the source.
const DefaultTTL = time.Hour

// Catalog serves schema information for one target database, backed by the
// TTL cache. It is the only state shared between concurrent pipeline runs.
type Catalog struct {
	database string
	source   db.MetadataSource
	tables   *Cache[[]string]
	schemas  *Cache[string]
	keywords *Cache[[]string]
	logger   *slog.Logger
}

// NewCatalog creates a catalog for the given database. A zero TTL uses the
// default. Pass nil logger for the default.
func NewCatalog(database string, source db.MetadataSource, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Catalog{
		database: database,
		source:   source,
		logger:   logger.With("component", "metadata-catalog"),
	}

	c.tables = NewCache(ttl, func(ctx context.Context, key string) ([]string, error) {
		return source.Tables(ctx, key)
	}, nil)

	c.schemas = NewCache(ttl, func(ctx context.Context, key string) (string, error) {
		database, table, ok := strings.Cut(key, ".")
		if !ok {
			return "", fmt.Errorf("malformed schema key %q", key)
		}
		return source.Schema(ctx, database, table)
	}, func(ctx context.Context, key string) (time.Time, error) {
		database, table, ok := strings.Cut(key, ".")
		if !ok {
			return time.Time{}, fmt.Errorf("malformed schema key %q", key)
		}
		return source.LastModified(ctx, database, table)
	})

	c.keywords = NewCache(ttl, func(ctx context.Context, key string) ([]string, error) {
		return c.mineKeywords(ctx)
	}, nil)

	return c
}

// Database returns the catalog's target database name.
func (c *Catalog) Database() string {
	return c.database
}

// TablesInfo returns the concatenated schema blobs for every table in the
// target database. On a refresh failure the last cached value is served if
// one exists; otherwise the error surfaces to the caller.
func (c *Catalog) TablesInfo(ctx context.Context) (string, error) {
	tables, err := c.tables.GetOrRefresh(ctx, c.database)
	if err != nil {
		if stale, ok := c.tables.GetStale(c.database); ok {
			c.logger.Warn("metadata source unreachable, serving stale table list", "error", err)
			tables = stale
		} else {
			return "", fmt.Errorf("loading table list: %w", err)
		}
	}

	var b strings.Builder
	for _, table := range tables {
		key := c.database + "." + table
		schema, err := c.schemas.GetOrRefresh(ctx, key)
		if err != nil {
			if stale, ok := c.schemas.GetStale(key); ok {
				c.logger.Warn("metadata source unreachable, serving stale schema",
					"table", table, "error", err)
				schema = stale
			} else {
				return "", fmt.Errorf("loading schema for %s: %w", key, err)
			}
		}
		b.WriteString(schema)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// Keywords returns vocabulary mined from the schema (table names, column
// names, comment words) for medium-confidence classification. Errors yield
// an empty set; classification falls through to its next layer.
func (c *Catalog) Keywords(ctx context.Context) []string {
	kws, err := c.keywords.GetOrRefresh(ctx, c.database)
	if err != nil {
		if stale, ok := c.keywords.GetStale(c.database); ok {
			return stale
		}
		c.logger.Warn("mining schema keywords failed", "error", err)
		return nil
	}
	return kws
}

// Refresh re-validates the catalog. With force, everything is re-fetched;
// otherwise per-table last-modified timestamps gate the schema fetches.
func (c *Catalog) Refresh(ctx context.Context, force bool) error {
	tables, err := c.tables.Refresh(ctx, c.database, force)
	if err != nil {
		return fmt.Errorf("refreshing table list: %w", err)
	}
	for _, table := range tables {
		if _, err := c.schemas.Refresh(ctx, c.database+"."+table, force); err != nil {
			return fmt.Errorf("refreshing schema for %s: %w", table, err)
		}
	}
	if _, err := c.keywords.Refresh(ctx, c.database, true); err != nil {
		return fmt.Errorf("refreshing keywords: %w", err)
	}
	return nil
}

// Invalidate drops every cached entry for the target database.
func (c *Catalog) Invalidate(ctx context.Context) {
	if tables, ok := c.tables.GetStale(c.database); ok {
		for _, table := range tables {
			c.schemas.Invalidate(c.database + "." + table)
		}
	}
	c.tables.Invalidate(c.database)
	c.keywords.Invalidate(c.database)
}

// mineKeywords tokenizes the schema text into a deduplicated lowercase
// vocabulary. Short tokens and SQL type noise are skipped.
func (c *Catalog) mineKeywords(ctx context.Context) ([]string, error) {
	info, err := c.TablesInfo(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(info) {
		if len([]rune(tok)) < 3 || isTypeNoise(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var typeNoise = map[string]struct{}{
	"int": {}, "bigint": {}, "tinyint": {}, "smallint": {}, "varchar": {},
	"char": {}, "text": {}, "decimal": {}, "double": {}, "float": {},
	"datetime": {}, "date": {}, "timestamp": {}, "boolean": {}, "null": {},
	"not": {}, "table": {}, "key": {}, "default": {}, "comment": {},
}

func isTypeNoise(tok string) bool {
	_, ok := typeNoise[tok]
	return ok
}
