package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// database/sql driver names.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// SQL is the SQLite-dialect store, either an embedded modernc database or a
// remote libsql (Turso) database.
type SQL struct {
	db     *sql.DB
	driver string
}

var _ Store = (*SQL)(nil)

// NewSQL opens dsn with driver and checks the connection.
func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}

	// One connection serializes writers and keeps :memory: databases shared.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to ping %s database", driver)
	}

	return &SQL{db: db, driver: driver}, nil
}

// Close closes the database
func (s *SQL) Close() error {
	return s.db.Close()
}

// Migrate creates the required tables if they don't exist
func (s *SQL) Migrate(ctx context.Context) error {
	for _, query := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return errors.Wrap(err, "failed to execute migration")
		}
	}
	return nil
}

func (s *SQL) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// WithTx runs fn with a Writer bound to one transaction.
func (s *SQL) WithTx(ctx context.Context, fn func(w Writer) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqlWriter{tx: tx})
	})
}

// execEach runs query once per row on one prepared statement and returns the
// number of rows affected.
func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) ([]any, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	affected := 0
	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			return affected, err
		}
		res, err := stmt.ExecContext(ctx, a...)
		if err != nil {
			return affected, errors.Wrap(err, "exec")
		}
		if k, err := res.RowsAffected(); err == nil {
			affected += int(k)
		}
	}
	return affected, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

const sqlUpsertPlayer = `
	INSERT INTO players (
		summoner_id, summoner_name, puuid, encrypted_account_id, profile_icon_id, summoner_level,
		tier, rank, league_points, wins, losses, veteran, inactive, fresh_blood, hot_streak,
		request_region, queue, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *SQL) UpsertPlayers(ctx context.Context, players []Player) (int, error) {
	now := time.Now().UnixMilli()
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = execEach(ctx, tx, sqlUpsertPlayer, len(players), func(i int) ([]any, error) {
			p := players[i]
			return []any{
				p.SummonerID, p.SummonerName, p.PUUID, p.EncryptedAccountID, p.ProfileIconID, p.SummonerLevel,
				p.Tier, p.Rank, p.LeaguePoints, p.Wins, p.Losses,
				b2i(p.Veteran), b2i(p.Inactive), b2i(p.FreshBlood), b2i(p.HotStreak),
				p.RequestRegion, p.Queue, now,
			}, nil
		})
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "upsert players")
	}
	return n, nil
}

const sqlPlayerColumns = `summoner_id, summoner_name, puuid, encrypted_account_id, profile_icon_id, summoner_level,
	tier, rank, league_points, wins, losses, veteran, inactive, fresh_blood, hot_streak,
	request_region, queue, updated_at`

// ListPlayers returns the players matching f.
func (s *SQL) ListPlayers(ctx context.Context, f PlayerFilter) ([]Player, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Shards) > 0 {
		where = append(where, "request_region IN (?"+strings.Repeat(", ?", len(f.Shards)-1)+")")
		for _, shard := range f.Shards {
			args = append(args, shard)
		}
	}
	if f.Queue != "" {
		where = append(where, "queue = ?")
		args = append(args, f.Queue)
	}

	query := "SELECT " + sqlPlayerColumns + " FROM players"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Shuffle {
		query += " ORDER BY RANDOM()"
	} else {
		query += " ORDER BY summoner_id"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list players")
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var (
			p       Player
			updated int64
		)
		if err := rows.Scan(&p.SummonerID, &p.SummonerName, &p.PUUID, &p.EncryptedAccountID, &p.ProfileIconID,
			&p.SummonerLevel, &p.Tier, &p.Rank, &p.LeaguePoints, &p.Wins, &p.Losses,
			&p.Veteran, &p.Inactive, &p.FreshBlood, &p.HotStreak,
			&p.RequestRegion, &p.Queue, &updated); err != nil {
			return nil, errors.Wrap(err, "scan player")
		}
		p.UpdatedAt = time.UnixMilli(updated)
		players = append(players, p)
	}
	return players, errors.Wrap(rows.Err(), "list players")
}

// UpdatePlayerIdentity stores a resolved identity.
func (s *SQL) UpdatePlayerIdentity(ctx context.Context, summonerID string, id Identity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET
			puuid = ?,
			summoner_name = CASE WHEN ? = '' THEN summoner_name ELSE ? END,
			encrypted_account_id = CASE WHEN ? = '' THEN encrypted_account_id ELSE ? END,
			profile_icon_id = ?,
			summoner_level = ?,
			updated_at = ?
		WHERE summoner_id = ?
	`, id.PUUID, id.SummonerName, id.SummonerName, id.EncryptedAccountID, id.EncryptedAccountID,
		id.ProfileIconID, id.SummonerLevel, time.Now().UnixMilli(), summonerID)
	if err != nil {
		return errors.Wrap(err, "update player identity")
	}
	return expectRow(res, "player "+summonerID)
}

// DeletePlayer removes a player that no longer resolves.
func (s *SQL) DeletePlayer(ctx context.Context, summonerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM players WHERE summoner_id = ?`, summonerID)
	return errors.Wrap(err, "delete player")
}

// InsertMatchRefs inserts new refs and returns how many were new.
func (s *SQL) InsertMatchRefs(ctx context.Context, matchIDs []string) (int, error) {
	now := time.Now().UnixMilli()
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = execEach(ctx, tx,
			`INSERT INTO match_refs (match_id, created_at) VALUES (?, ?) ON CONFLICT (match_id) DO NOTHING`,
			len(matchIDs), func(i int) ([]any, error) {
				return []any{matchIDs[i], now}, nil
			})
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "insert match refs")
	}
	return n, nil
}

const sqlRefColumns = `r.match_id, r.detail_fetched, r.performance_derived, r.frames_flattened,
	r.frames_flattened_live, r.matchups_extracted`

func scanRef(row interface{ Scan(...any) error }) (MatchRef, error) {
	var r MatchRef
	err := row.Scan(&r.MatchID, &r.DetailFetched, &r.PerformanceDerived, &r.FramesFlattened,
		&r.FramesFlattenedLive, &r.MatchupsExtracted)
	return r, err
}

// ListMatchRefs returns refs still pending for stage, oldest first.
func (s *SQL) ListMatchRefs(ctx context.Context, stage Stage, limit int) ([]MatchRef, error) {
	pred, err := stageWhere(stage)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + sqlRefColumns + " FROM match_refs r WHERE " + pred + " ORDER BY r.created_at, r.match_id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQL) GetMatchRef(ctx context.Context, matchID string) (*MatchRef, error) {
	r, err := scanRef(s.db.QueryRowContext(ctx,
		"SELECT "+sqlRefColumns+" FROM match_refs r WHERE r.match_id = ?", matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "match ref %s", matchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get match ref")
	}
	return &r, nil
}

// GetMatchDetail returns a stored payload.
func (s *SQL) GetMatchDetail(ctx context.Context, matchID string) (*MatchDetail, error) {
	var d MatchDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT match_id, game_duration_seconds, game_version, winning_team, payload, timeline
		FROM match_details WHERE match_id = ?
	`, matchID).Scan(&d.MatchID, &d.GameDurationSeconds, &d.GameVersion, &d.WinningTeam, &d.Payload, &d.Timeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "match detail %s", matchID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get match detail")
	}
	return &d, nil
}

// ChangeColumn sets one whitelisted column of the row identified by key.
func (s *SQL) ChangeColumn(ctx context.Context, table, column string, value any, key string) error {
	keyColumn, err := checkChange(table, column, value)
	if err != nil {
		return err
	}
	if b, ok := value.(bool); ok {
		value = b2i(b)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE "+table+" SET "+column+" = ? WHERE "+keyColumn+" = ?", value, key)
	if err != nil {
		return errors.Wrapf(err, "change %s.%s", table, column)
	}
	return expectRow(res, table+" "+key)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, what)
	}
	return nil
}

// sqlWriter implements Writer on one transaction.
type sqlWriter struct {
	tx *sql.Tx
}

func (w *sqlWriter) mark(ctx context.Context, flag, matchID string) error {
	res, err := w.tx.ExecContext(ctx, "UPDATE match_refs SET "+flag+" = 1 WHERE match_id = ?", matchID)
	if err != nil {
		return errors.Wrapf(err, "mark %s", flag)
	}
	return expectRow(res, "match ref "+matchID)
}

func (w *sqlWriter) PutMatchDetail(ctx context.Context, d MatchDetail) error {
	var timeline any
	if d.Timeline != nil {
		timeline = string(d.Timeline)
	}
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO match_details (match_id, game_duration_seconds, game_version, winning_team, payload, timeline, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET timeline = excluded.timeline
		WHERE match_details.timeline IS NULL AND excluded.timeline IS NOT NULL
	`, d.MatchID, d.GameDurationSeconds, d.GameVersion, d.WinningTeam, string(d.Payload), timeline, time.Now().UnixMilli())
	return errors.Wrap(err, "put match detail")
}

func (w *sqlWriter) MarkDetailFetched(ctx context.Context, matchID string) error {
	return w.mark(ctx, "detail_fetched", matchID)
}

func (w *sqlWriter) PutPerformanceRows(ctx context.Context, rows []PerformanceRow) (int, error) {
	n, err := execEach(ctx, w.tx, `
		INSERT INTO performance_rows (
			match_id, participant_id, puuid, summoner_name, champion_name, team_id, win,
			duration_min, f1, f2, f3, f4, f5, calculated_player_performance, document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id, participant_id) DO NOTHING
	`, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.MatchID, r.ParticipantID, r.PUUID, r.SummonerName, r.ChampionName, r.TeamID, b2i(r.Win),
			r.DurationMin, r.F1, r.F2, r.F3, r.F4, r.F5, r.Performance, string(r.Document),
		}, nil
	})
	return n, errors.Wrap(err, "put performance rows")
}

func (w *sqlWriter) MarkPerfDerived(ctx context.Context, matchID string) error {
	return w.mark(ctx, "performance_derived", matchID)
}

func (w *sqlWriter) PutFrameRows(ctx context.Context, variant FrameVariant, rows []FrameRow) (int, error) {
	if _, err := variantFlag(variant); err != nil {
		return 0, err
	}
	n, err := execEach(ctx, w.tx, `
		INSERT INTO frame_rows (variant, match_id, participant_id, timestamp_ms, identifier, winner, features)
		VALUES (?, ?, ?, ?, ?, ?, ?)
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

func (w *sqlWriter) MarkFramesFlattened(ctx context.Context, matchID string, variant FrameVariant) error {
	flag, err := variantFlag(variant)
	if err != nil {
		return err
	}
	return w.mark(ctx, flag, matchID)
}

func (w *sqlWriter) PutLaneMatchups(ctx context.Context, rows []LaneMatchup) (int, error) {
	n, err := execEach(ctx, w.tx, `
		INSERT INTO lane_matchups (matchup_id, match_id, lane, game_version, sides)
		VALUES (?, ?, ?, ?, ?)
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

func (w *sqlWriter) MarkMatchupsExtracted(ctx context.Context, matchID string) error {
	return w.mark(ctx, "matchups_extracted", matchID)
}
