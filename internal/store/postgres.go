package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the client-server store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPostgres creates a connection pool for url and checks it.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the database connection pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Migrate creates the required tables if they don't exist
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, query := range postgresSchema {
		if _, err := p.pool.Exec(ctx, query); err != nil {
			return errors.Wrap(err, "failed to execute migration")
		}
	}
	return nil
}

// WithTx runs fn with a Writer bound to one transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(w Writer) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgWriter{q: tx})
	})
}

// sendBatch queues one statement per row and returns the rows affected. The
// batch runs as one implicit transaction when q is the pool.
func sendBatch(ctx context.Context, q pgQuerier, query string, n int, args func(i int) ([]any, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			return 0, err
		}
		batch.Queue(query, a...)
	}

	br := q.SendBatch(ctx, batch)
	affected := 0
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, errors.Wrap(err, "batch exec")
		}
		affected += int(tag.RowsAffected())
	}
	return affected, errors.Wrap(br.Close(), "batch close")
}

const pgUpsertPlayer = `
	INSERT INTO players (
		summoner_id, summoner_name, puuid, encrypted_account_id, profile_icon_id, summoner_level,
		tier, rank, league_points, wins, losses, veteran, inactive, fresh_blood, hot_streak,
		request_region, queue, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (summoner_id) DO UPDATE SET
		tier = excluded.tier,
		rank = excluded.rank,
		league_points = excluded.league_points,
		wins = excluded.wins,
		losses = excluded.losses,
		veteran = excluded.veteran,
		inactive = excluded.inactive,
		fresh_blood = excluded.fresh_blood,
		hot_streak = excluded.hot_streak,
		request_region = excluded.request_region,
		queue = excluded.queue,
		updated_at = excluded.updated_at,
		puuid = CASE WHEN players.puuid = '' THEN excluded.puuid ELSE players.puuid END`

// UpsertPlayers inserts players by summoner_id; existing rows get their
// ranking fields refreshed.
func (p *Postgres) UpsertPlayers(ctx context.Context, players []Player) (int, error) {
	now := time.Now().UnixMilli()
	n, err := sendBatch(ctx, p.pool, pgUpsertPlayer, len(players), func(i int) ([]any, error) {
		pl := players[i]
		return []any{
			pl.SummonerID, pl.SummonerName, pl.PUUID, pl.EncryptedAccountID, pl.ProfileIconID, pl.SummonerLevel,
			pl.Tier, pl.Rank, pl.LeaguePoints, pl.Wins, pl.Losses,
			pl.Veteran, pl.Inactive, pl.FreshBlood, pl.HotStreak,
			pl.RequestRegion, pl.Queue, now,
		}, nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "upsert players")
	}
	return n, nil
}

// ListPlayers returns the players matching f.
func (p *Postgres) ListPlayers(ctx context.Context, f PlayerFilter) ([]Player, error) {
	query := `
		SELECT summoner_id, summoner_name, puuid, encrypted_account_id, profile_icon_id, summoner_level,
			tier, rank, league_points, wins, losses, veteran, inactive, fresh_blood, hot_streak,
			request_region, queue, updated_at
		FROM players
		WHERE (cardinality($1::text[]) = 0 OR request_region = ANY($1))
		  AND ($2 = '' OR queue = $2)`
	args := []any{f.Shards, f.Queue}
	if f.Shards == nil {
		args[0] = []string{}
	}

	if f.Shuffle {
		query += " ORDER BY random()"
	} else {
		query += " ORDER BY summoner_id"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list players")
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var (
			pl      Player
			updated int64
		)
		if err := rows.Scan(&pl.SummonerID, &pl.SummonerName, &pl.PUUID, &pl.EncryptedAccountID, &pl.ProfileIconID,
			&pl.SummonerLevel, &pl.Tier, &pl.Rank, &pl.LeaguePoints, &pl.Wins, &pl.Losses,
			&pl.Veteran, &pl.Inactive, &pl.FreshBlood, &pl.HotStreak,
			&pl.RequestRegion, &pl.Queue, &updated); err != nil {
			return nil, errors.Wrap(err, "scan player")
		}
		pl.UpdatedAt = time.UnixMilli(updated)
		players = append(players, pl)
	}
	return players, errors.Wrap(rows.Err(), "list players")
}

// UpdatePlayerIdentity stores a resolved identity.
func (p *Postgres) UpdatePlayerIdentity(ctx context.Context, summonerID string, id Identity) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE players SET
			puuid = $1,
			summoner_name = CASE WHEN $2 = '' THEN summoner_name ELSE $2 END,
			encrypted_account_id = CASE WHEN $3 = '' THEN encrypted_account_id ELSE $3 END,
			profile_icon_id = $4,
			summoner_level = $5,
			updated_at = $6
		WHERE summoner_id = $7
	`, id.PUUID, id.SummonerName, id.EncryptedAccountID, id.ProfileIconID, id.SummonerLevel,
		time.Now().UnixMilli(), summonerID)
	if err != nil {
		return errors.Wrap(err, "update player identity")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "player %s", summonerID)
	}
	return nil
}

// DeletePlayer removes a player that no longer resolves.
func (p *Postgres) DeletePlayer(ctx context.Context, summonerID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM players WHERE summoner_id = $1`, summonerID)
	return errors.Wrap(err, "delete player")
}

// InsertMatchRefs inserts new refs and returns how many were new.
func (p *Postgres) InsertMatchRefs(ctx context.Context, matchIDs []string) (int, error) {
	now := time.Now().UnixMilli()
	n, err := sendBatch(ctx, p.pool,
		`INSERT INTO match_refs (match_id, created_at) VALUES ($1, $2) ON CONFLICT (match_id) DO NOTHING`,
		len(matchIDs), func(i int) ([]any, error) {
			return []any{matchIDs[i], now}, nil
		})
	if err != nil {
		return 0, errors.Wrap(err, "insert match refs")
	}
	return n, nil
}

const pgRefColumns = `r.match_id, r.detail_fetched, r.performance_derived, r.frames_flattened,
	r.frames_flattened_live, r.matchups_extracted`

// ListMatchRefs returns refs still pending for stage, oldest first.
func (p *Postgres) ListMatchRefs(ctx context.Context, stage Stage, limit int) ([]MatchRef, error) {
	pred, err := stageWhere(stage)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + pgRefColumns + " FROM match_refs r WHERE " + pred + " ORDER BY r.created_at, r.match_id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "list match refs for %s", stage)
	}
	defer rows.Close()

	var refs []MatchRef
	for rows.Next() {
		r, err := scanRef(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan match ref")
		}
		refs = append(refs, r)
	}
	return refs, errors.Wrap(rows.Err(), "list match refs")
}

// GetMatchRef returns one ref.
func (p *Postgres) GetMatchRef(ctx context.Context, matchID string) (*MatchRef, error) {
	r, err := scanRef(p.pool.QueryRow(ctx,
		"SELECT "+pgRefColumns+" FROM match_refs r WHERE r.match_id = $1", matchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "match ref %s", matchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get match ref")
	}
	return &r, nil
}

// GetMatchDetail returns a stored payload.
func (p *Postgres) GetMatchDetail(ctx context.Context, matchID string) (*MatchDetail, error) {
	var d MatchDetail
	err := p.pool.QueryRow(ctx, `
		SELECT match_id, game_duration_seconds, game_version, winning_team, payload, timeline
		FROM match_details WHERE match_id = $1
	`, matchID).Scan(&d.MatchID, &d.GameDurationSeconds, &d.GameVersion, &d.WinningTeam, &d.Payload, &d.Timeline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "match detail %s", matchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get match detail")
	}
	return &d, nil
}

// ChangeColumn sets one whitelisted column of the row identified by key.
func (p *Postgres) ChangeColumn(ctx context.Context, table, column string, value any, key string) error {
	keyColumn, err := checkChange(table, column, value)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx,
		"UPDATE "+table+" SET "+column+" = $1 WHERE "+keyColumn+" = $2", value, key)
	if err != nil {
		return errors.Wrapf(err, "change %s.%s", table, column)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "%s %s", table, key)
	}
	return nil
}

// pgWriter implements Writer on a pgx transaction.
type pgWriter struct {
	q pgQuerier
}

func (w *pgWriter) mark(ctx context.Context, flag, matchID string) error {
	tag, err := w.q.Exec(ctx, "UPDATE match_refs SET "+flag+" = TRUE WHERE match_id = $1", matchID)
	if err != nil {
		return errors.Wrapf(err, "mark %s", flag)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "match ref %s", matchID)
	}
	return nil
}

func (w *pgWriter) PutMatchDetail(ctx context.Context, d MatchDetail) error {
	_, err := w.q.Exec(ctx, `
		INSERT INTO match_details (match_id, game_duration_seconds, game_version, winning_team, payload, timeline, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id) DO UPDATE SET timeline = excluded.timeline
		WHERE match_details.timeline IS NULL AND excluded.timeline IS NOT NULL
	`, d.MatchID, d.GameDurationSeconds, d.GameVersion, d.WinningTeam, string(d.Payload),
		nullableJSON(d.Timeline), time.Now().UnixMilli())
	return errors.Wrap(err, "put match detail")
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (w *pgWriter) MarkDetailFetched(ctx context.Context, matchID string) error {
	return w.mark(ctx, "detail_fetched", matchID)
}

func (w *pgWriter) PutPerformanceRows(ctx context.Context, rows []PerformanceRow) (int, error) {
	n, err := sendBatch(ctx, w.q, `
		INSERT INTO performance_rows (
			match_id, participant_id, puuid, summoner_name, champion_name, team_id, win,
			duration_min, f1, f2, f3, f4, f5, calculated_player_performance, document
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (match_id, participant_id) DO NOTHING
	`, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.MatchID, r.ParticipantID, r.PUUID, r.SummonerName, r.ChampionName, r.TeamID, r.Win,
			r.DurationMin, r.F1, r.F2, r.F3, r.F4, r.F5, r.Performance, string(r.Document),
		}, nil
	})
	return n, errors.Wrap(err, "put performance rows")
}

func (w *pgWriter) MarkPerfDerived(ctx context.Context, matchID string) error {
	return w.mark(ctx, "performance_derived", matchID)
}

func (w *pgWriter) PutFrameRows(ctx context.Context, variant FrameVariant, rows []FrameRow) (int, error) {
	if _, err := variantFlag(variant); err != nil {
		return 0, err
	}
	n, err := sendBatch(ctx, w.q, `
		INSERT INTO frame_rows (variant, match_id, participant_id, timestamp_ms, identifier, winner, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (variant, match_id, participant_id, timestamp_ms) DO NOTHING
	`, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		features, err := json.Marshal(r.Features)
		if err != nil {
			return nil, errors.Wrap(err, "encode frame features")
		}
		return []any{string(variant), r.MatchID, r.ParticipantID, r.TimestampMS, r.Identifier, r.Winner, string(features)}, nil
	})
	return n, errors.Wrap(err, "put frame rows")
}

func (w *pgWriter) MarkFramesFlattened(ctx context.Context, matchID string, variant FrameVariant) error {
	flag, err := variantFlag(variant)
	if err != nil {
		return err
	}
	return w.mark(ctx, flag, matchID)
}

func (w *pgWriter) PutLaneMatchups(ctx context.Context, rows []LaneMatchup) (int, error) {
	n, err := sendBatch(ctx, w.q, `
		INSERT INTO lane_matchups (matchup_id, match_id, lane, game_version, sides)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (matchup_id) DO NOTHING
	`, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		sides, err := json.Marshal(r.Sides)
		if err != nil {
			return nil, errors.Wrap(err, "encode matchup sides")
		}
		return []any{r.MatchupID, r.MatchID, r.Lane, r.GameVersion, string(sides)}, nil
	})
	return n, errors.Wrap(err, "put lane matchups")
}

func (w *pgWriter) MarkMatchupsExtracted(ctx context.Context, matchID string) error {
	return w.mark(ctx, "matchups_extracted", matchID)
}
