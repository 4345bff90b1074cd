package storyview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/onnwee/storyviews/internal/tracing"
)

const tableStoryViews = "story_views"

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

const recordColumns = `
	id, story_id, fingerprint, media_type,
	session_count, watch_time_ms, viewed_percentage, completed,
	exit_reason, playback_events, first_viewed_at, last_viewed_at,
	device_type, browser, browser_version, os, platform,
	screen_resolution, language, timezone,
	canvas_hash, webgl_hash, audio_hash,
	ip_address, country, country_code, region, city, geohash`

// dimensionColumns whitelists the columns QueryGrouped may group by.
var dimensionColumns = map[Dimension]string{
	DimensionCountry: "country",
	DimensionCity:    "city",
	DimensionDevice:  "device_type",
	DimensionBrowser: "browser",
	DimensionOS:      "os",
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r      Record
		exit   sql.NullString
		events []byte
	)
	err := row.Scan(
		&r.ID, &r.StoryID, &r.Fingerprint, &r.MediaType,
		&r.SessionCount, &r.WatchTimeMs, &r.ViewedPercentage, &r.Completed,
		&exit, &events, &r.FirstViewedAt, &r.LastViewedAt,
		&r.DeviceType, &r.Browser, &r.BrowserVersion, &r.OS, &r.Platform,
		&r.ScreenResolution, &r.Language, &r.Timezone,
		&r.CanvasHash, &r.WebGLHash, &r.AudioHash,
		&r.IPAddress, &r.Country, &r.CountryCode, &r.Region, &r.City, &r.Geohash,
	)
	if err != nil {
		return nil, err
	}
	r.ExitReason = ExitReason(exit.String)
	if len(events) > 0 {
		if err := json.Unmarshal(events, &r.PlaybackEvents); err != nil {
			return nil, fmt.Errorf("failed to decode playback events: %w", err)
		}
	}
	return &r, nil
}

// FindView retrieves the record for (storyID, fingerprint).
func (p *PostgresRepository) FindView(ctx context.Context, storyID, fingerprint string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT` + recordColumns + `
		FROM story_views
		WHERE story_id = $1 AND fingerprint = $2`

	rec, err = scanRecord(p.db.QueryRowContext(ctx, query, storyID, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find story view: %w", err)
	}
	return rec, nil
}

// InsertView inserts a new record. A unique violation on
// (story_id, fingerprint) is reported as ErrDuplicateView.
func (p *PostgresRepository) InsertView(ctx context.Context, r *Record) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	events, err := json.Marshal(eventsOrEmpty(r.PlaybackEvents))
	if err != nil {
		return fmt.Errorf("failed to encode playback events: %w", err)
	}

	query := `INSERT INTO story_views (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

	_, err = p.db.ExecContext(ctx, query,
		r.ID, r.StoryID, r.Fingerprint, r.MediaType,
		r.SessionCount, r.WatchTimeMs, r.ViewedPercentage, r.Completed,
		nullString(string(r.ExitReason)), events, r.FirstViewedAt, r.LastViewedAt,
		r.DeviceType, r.Browser, r.BrowserVersion, r.OS, r.Platform,
		r.ScreenResolution, r.Language, r.Timezone,
		r.CanvasHash, r.WebGLHash, r.AudioHash,
		r.IPAddress, r.Country, r.CountryCode, r.Region, r.City, r.Geohash,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateView
	}
	if err != nil {
		return fmt.Errorf("failed to insert story view: %w", err)
	}
	return nil
}

// MergeView applies the merge rule in a single UPDATE so concurrent merges
// from several tabs cannot lose a session or lower a maximum.
func (p *PostgresRepository) MergeView(ctx context.Context, storyID, fingerprint string, c Contribution) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	events, err := json.Marshal(eventsOrEmpty(c.Events))
	if err != nil {
		return nil, fmt.Errorf("failed to encode playback events: %w", err)
	}

	query := `
		UPDATE story_views SET
			session_count     = session_count + 1,
			watch_time_ms     = GREATEST(watch_time_ms, $3),
			viewed_percentage = GREATEST(viewed_percentage, $4),
			completed         = completed OR $5,
			exit_reason       = $6,
			playback_events   = playback_events || $7::jsonb,
			last_viewed_at    = $8
		WHERE story_id = $1 AND fingerprint = $2
		RETURNING` + recordColumns

	rec, err = scanRecord(p.db.QueryRowContext(ctx, query,
		storyID, fingerprint,
		c.WatchTimeMs, c.ViewedPercentage, c.Completed,
		nullString(string(c.ExitReason)), events, c.EndedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to merge story view: %w", err)
	}
	return rec, nil
}

// QueryStats aggregates a story's records in the database.
func (p *PostgresRepository) QueryStats(ctx context.Context, storyID string) (st *Stats, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(session_count), 0),
		       COUNT(*) FILTER (WHERE completed),
		       COALESCE(AVG(watch_time_ms), 0),
		       COALESCE(AVG(viewed_percentage), 0),
		       MIN(first_viewed_at),
		       MAX(last_viewed_at)
		FROM story_views
		WHERE story_id = $1`

	st = &Stats{StoryID: storyID, ExitReasons: make(map[ExitReason]int)}
	var avgWatch, avgPct float64
	var first, last sql.NullTime
	err = p.db.QueryRowContext(ctx, query, storyID).Scan(
		&st.UniqueViews, &st.TotalViews, &st.CompletedViews,
		&avgWatch, &avgPct, &first, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query story stats: %w", err)
	}
	if st.UniqueViews == 0 {
		return st, nil
	}

	n := float64(st.UniqueViews)
	st.AvgWatchTimeMs = round2(avgWatch)
	st.AvgViewedPercentage = round2(avgPct)
	st.CompletionRatePercentage = round2(float64(st.CompletedViews) / n * 100)
	st.AvgSessionsPerViewer = round2(float64(st.TotalViews) / n)
	if first.Valid {
		st.FirstViewAt = &first.Time
	}
	if last.Valid {
		st.LastViewAt = &last.Time
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT exit_reason, COUNT(*)
		FROM story_views
		WHERE story_id = $1 AND exit_reason IS NOT NULL
		GROUP BY exit_reason`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exit reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int
		if err = rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan exit reason: %w", err)
		}
		st.ExitReasons[ExitReason(reason)] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exit reasons: %w", err)
	}
	return st, nil
}

// QueryGrouped counts distinct fingerprints per value of dim.
func (p *PostgresRepository) QueryGrouped(ctx context.Context, storyID string, dim Dimension) (groups []GroupCount, err error) {
	column, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, dim)
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := fmt.Sprintf(`
		SELECT COALESCE(NULLIF(NULLIF(%[1]s, ''), 'unavailable'), $2) AS group_key,
		       COUNT(DISTINCT fingerprint)
		FROM story_views
		WHERE story_id = $1
		GROUP BY group_key`, column)

	rows, err := p.db.QueryContext(ctx, query, storyID, UnknownGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped views: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var g GroupCount
		if err = rows.Scan(&g.Key, &g.Viewers); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		total += g.Viewers
		groups = append(groups, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	finishGroups(groups, total)
	return groups, nil
}

// ListViews returns a story's most recently viewed records.
func (p *PostgresRepository) ListViews(ctx context.Context, storyID string, limit int) (records []*Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableStoryViews, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT` + recordColumns + `
		FROM story_views
		WHERE story_id = $1
		ORDER BY last_viewed_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, storyID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list story views: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story view: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story views: %w", err)
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func eventsOrEmpty(events []PlaybackEvent) []PlaybackEvent {
	if events == nil {
		return []PlaybackEvent{}
	}
	return events
}
