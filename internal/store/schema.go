package store

// Two dialects of the same schema. JSON documents are JSONB on Postgres and
// TEXT on SQLite; timestamps are unix milliseconds in both.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS players (
		summoner_id TEXT PRIMARY KEY,
		summoner_name TEXT NOT NULL DEFAULT '',
		puuid TEXT NOT NULL DEFAULT '',
		encrypted_account_id TEXT NOT NULL DEFAULT '',
		profile_icon_id INTEGER NOT NULL DEFAULT 0,
		summoner_level BIGINT NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT '',
		rank TEXT NOT NULL DEFAULT '',
		league_points INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		veteran BOOLEAN NOT NULL DEFAULT FALSE,
		inactive BOOLEAN NOT NULL DEFAULT FALSE,
		fresh_blood BOOLEAN NOT NULL DEFAULT FALSE,
		hot_streak BOOLEAN NOT NULL DEFAULT FALSE,
		request_region TEXT NOT NULL DEFAULT '',
		queue TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS match_refs (
		match_id TEXT PRIMARY KEY,
		detail_fetched BOOLEAN NOT NULL DEFAULT FALSE,
		performance_derived BOOLEAN NOT NULL DEFAULT FALSE,
		frames_flattened BOOLEAN NOT NULL DEFAULT FALSE,
		frames_flattened_live BOOLEAN NOT NULL DEFAULT FALSE,
		matchups_extracted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS match_details (
		match_id TEXT PRIMARY KEY,
		game_duration_seconds BIGINT NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		winning_team INTEGER NOT NULL DEFAULT 0,
		payload JSONB NOT NULL,
		timeline JSONB,
		fetched_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS performance_rows (
		match_id TEXT NOT NULL,
		participant_id INTEGER NOT NULL,
		puuid TEXT NOT NULL DEFAULT '',
		summoner_name TEXT NOT NULL DEFAULT '',
		champion_name TEXT NOT NULL DEFAULT '',
		team_id INTEGER NOT NULL DEFAULT 0,
		win BOOLEAN NOT NULL DEFAULT FALSE,
		duration_min DOUBLE PRECISION NOT NULL,
		f1 DOUBLE PRECISION NOT NULL,
		f2 DOUBLE PRECISION NOT NULL,
		f3 DOUBLE PRECISION NOT NULL,
		f4 DOUBLE PRECISION NOT NULL,
		f5 DOUBLE PRECISION NOT NULL,
		calculated_player_performance DOUBLE PRECISION NOT NULL,
		document JSONB NOT NULL,
		PRIMARY KEY (match_id, participant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS frame_rows (
		variant TEXT NOT NULL,
		match_id TEXT NOT NULL,
		participant_id INTEGER NOT NULL,
		timestamp_ms BIGINT NOT NULL,
		identifier TEXT NOT NULL,
		winner SMALLINT NOT NULL,
		features JSONB NOT NULL,
		PRIMARY KEY (variant, match_id, participant_id, timestamp_ms)
	)`,
	`CREATE TABLE IF NOT EXISTS lane_matchups (
		matchup_id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		lane TEXT NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		sides JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_players_region_queue ON players(request_region, queue)`,
	`CREATE INDEX IF NOT EXISTS idx_match_refs_detail ON match_refs(detail_fetched)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_puuid ON performance_rows(puuid)`,
	`CREATE INDEX IF NOT EXISTS idx_lane_matchups_match ON lane_matchups(match_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS players (
		summoner_id TEXT PRIMARY KEY,
		summoner_name TEXT NOT NULL DEFAULT '',
		puuid TEXT NOT NULL DEFAULT '',
		encrypted_account_id TEXT NOT NULL DEFAULT '',
		profile_icon_id INTEGER NOT NULL DEFAULT 0,
		summoner_level INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT '',
		rank TEXT NOT NULL DEFAULT '',
		league_points INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		veteran INTEGER NOT NULL DEFAULT 0,
		inactive INTEGER NOT NULL DEFAULT 0,
		fresh_blood INTEGER NOT NULL DEFAULT 0,
		hot_streak INTEGER NOT NULL DEFAULT 0,
		request_region TEXT NOT NULL DEFAULT '',
		queue TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS match_refs (
		match_id TEXT PRIMARY KEY,
		detail_fetched INTEGER NOT NULL DEFAULT 0,
		performance_derived INTEGER NOT NULL DEFAULT 0,
		frames_flattened INTEGER NOT NULL DEFAULT 0,
		frames_flattened_live INTEGER NOT NULL DEFAULT 0,
		matchups_extracted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS match_details (
		match_id TEXT PRIMARY KEY,
		game_duration_seconds INTEGER NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		winning_team INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		timeline TEXT,
		fetched_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS performance_rows (
		match_id TEXT NOT NULL,
		participant_id INTEGER NOT NULL,
		puuid TEXT NOT NULL DEFAULT '',
		summoner_name TEXT NOT NULL DEFAULT '',
		champion_name TEXT NOT NULL DEFAULT '',
		team_id INTEGER NOT NULL DEFAULT 0,
		win INTEGER NOT NULL DEFAULT 0,
		duration_min REAL NOT NULL,
		f1 REAL NOT NULL,
		f2 REAL NOT NULL,
		f3 REAL NOT NULL,
		f4 REAL NOT NULL,
		f5 REAL NOT NULL,
		calculated_player_performance REAL NOT NULL,
		document TEXT NOT NULL,
		PRIMARY KEY (match_id, participant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS frame_rows (
		variant TEXT NOT NULL,
		match_id TEXT NOT NULL,
		participant_id INTEGER NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		winner INTEGER NOT NULL,
		features TEXT NOT NULL,
		PRIMARY KEY (variant, match_id, participant_id, timestamp_ms)
	)`,
	`CREATE TABLE IF NOT EXISTS lane_matchups (
		matchup_id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		lane TEXT NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		sides TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_players_region_queue ON players(request_region, queue)`,
	`CREATE INDEX IF NOT EXISTS idx_match_refs_detail ON match_refs(detail_fetched)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_puuid ON performance_rows(puuid)`,
	`CREATE INDEX IF NOT EXISTS idx_lane_matchups_match ON lane_matchups(match_id)`,
}
