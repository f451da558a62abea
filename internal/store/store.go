// Package store persists players, match references, match payloads and the
// rows derived from them. Two engines implement Store: Postgres on pgxpool and
// an embedded/remote SQLite dialect (modernc sqlite or libsql) on database/sql.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by lookups of a missing natural key.
var ErrNotFound = errors.New("not found")

// Player is one ladder entry plus the identity resolved for it.
type Player struct {
	SummonerID         string
	SummonerName       string
	PUUID              string
	EncryptedAccountID string
	ProfileIconID      int
	SummonerLevel      int64
	Tier               string
	Rank               string
	LeaguePoints       int
	Wins               int
	Losses             int
	Veteran            bool
	Inactive           bool
	FreshBlood         bool
	HotStreak          bool
	RequestRegion      string // shard the ladder was read from
	Queue              string
	UpdatedAt          time.Time
}

// Identity is the part of a Player filled in by summoner/account lookups.
type Identity struct {
	PUUID              string
	SummonerName       string
	EncryptedAccountID string
	ProfileIconID      int
	SummonerLevel      int64
}

// PlayerFilter selects players for the harvester.
type PlayerFilter struct {
	Shards  []string // empty means all
	Queue   string   // empty means all
	Shuffle bool
	Limit   int // 0 means no limit
}

// MatchRef tracks a match through the pipeline. Flags only ever move to true.
type MatchRef struct {
	MatchID             string
	DetailFetched       bool
	PerformanceDerived  bool
	FramesFlattened     bool
	FramesFlattenedLive bool
	MatchupsExtracted   bool
}

// Stage selects the refs a pipeline stage still has to process.
type Stage string

const (
	StageDetail     Stage = "detail_needed"
	StagePerf       Stage = "perf_needed"
	StageFrames     Stage = "frames_needed"
	StageFramesLive Stage = "frames_live_needed"
	StageMatchups   Stage = "matchups_needed"
	// StageTimeline selects fetched matches stored without a timeline.
	StageTimeline Stage = "timeline_needed"
)

// FrameVariant picks the column set of a frame row.
type FrameVariant string

const (
	FramesFull FrameVariant = "full"
	FramesLive FrameVariant = "live"
)

// MatchDetail is a stored match payload.
type MatchDetail struct {
	MatchID             string
	GameDurationSeconds int64
	GameVersion         string
	WinningTeam         int    // 100 or 200
	Payload             []byte // match JSON as received
	Timeline            []byte // timeline JSON, nil when not fetched
}

// PerformanceRow is one participant's derived performance.
type PerformanceRow struct {
	MatchID       string
	ParticipantID int
	PUUID         string
	SummonerName  string
	ChampionName  string
	TeamID        int
	Win           bool
	DurationMin   float64
	F1            float64 // deaths per minute
	F2            float64 // kills+assists per minute
	F3            float64 // level per minute
	F4            float64 // damage per minute
	F5            float64 // gold per minute
	Performance   float64
	Document      []byte // stripped participant record merged with the derived fields
}

// FrameRow is one participant at one timeline frame.
type FrameRow struct {
	MatchID       string
	ParticipantID int
	TimestampMS   int64
	Identifier    string
	Winner        int // 1 when the participant's team won
	Features      map[string]float64
}

// MatchupSide is one participant of a lane matchup.
type MatchupSide struct {
	Champion                    string `json:"champion"`
	Assists                     int    `json:"assists"`
	Deaths                      int    `json:"deaths"`
	GoldEarned                  int    `json:"goldEarned"`
	Kills                       int    `json:"kills"`
	PUUID                       string `json:"puuid"`
	SummonerName                string `json:"summonerName"`
	TotalDamageDealtToChampions int64  `json:"totalDamageDealtToChampions"`
	TotalMinionsKilled          int    `json:"totalMinionsKilled"`
	VisionScore                 int    `json:"visionScore"`
	Win                         bool   `json:"win"`
}

// LaneMatchup pairs the two laners of one position in one match.
type LaneMatchup struct {
	MatchupID   string
	MatchID     string
	Lane        string
	GameVersion string
	Sides       [2]MatchupSide
}

// Writer is the set of payload writes and flag marks. It is only handed out
// by Store.WithTx so that a payload and its mark commit together.
type Writer interface {
	// PutMatchDetail stores d. For a match already stored it only fills a
	// missing timeline.
	PutMatchDetail(ctx context.Context, d MatchDetail) error
	MarkDetailFetched(ctx context.Context, matchID string) error

	PutPerformanceRows(ctx context.Context, rows []PerformanceRow) (int, error)
	MarkPerfDerived(ctx context.Context, matchID string) error

	PutFrameRows(ctx context.Context, variant FrameVariant, rows []FrameRow) (int, error)
	MarkFramesFlattened(ctx context.Context, matchID string, variant FrameVariant) error

	PutLaneMatchups(ctx context.Context, rows []LaneMatchup) (int, error)
	MarkMatchupsExtracted(ctx context.Context, matchID string) error
}

// Store is the durable state of the pipeline.
type Store interface {
	Migrate(ctx context.Context) error

	UpsertPlayers(ctx context.Context, players []Player) (int, error)
	ListPlayers(ctx context.Context, f PlayerFilter) ([]Player, error)
	UpdatePlayerIdentity(ctx context.Context, summonerID string, id Identity) error
	DeletePlayer(ctx context.Context, summonerID string) error

	InsertMatchRefs(ctx context.Context, matchIDs []string) (int, error)
	ListMatchRefs(ctx context.Context, stage Stage, limit int) ([]MatchRef, error)
	GetMatchRef(ctx context.Context, matchID string) (*MatchRef, error)
	GetMatchDetail(ctx context.Context, matchID string) (*MatchDetail, error)

	// WithTx runs fn inside one transaction; it commits when fn returns nil
	// and rolls back otherwise.
	WithTx(ctx context.Context, fn func(w Writer) error) error

	ChangeColumn(ctx context.Context, table, column string, value any, key string) error

	Close() error
}

// Open connects to the store at url. postgres:// and postgresql:// select
// Postgres; libsql://, http(s):// and ws(s):// select libsql; anything else
// is treated as a SQLite path or file: URI.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url)
	case strings.HasPrefix(url, "libsql://"),
		strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"),
		strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return NewSQL(ctx, DriverLibSQL, url)
	case url == "":
		return nil, errors.New("empty database url")
	default:
		return NewSQL(ctx, DriverSQLite, sqliteDSN(url))
	}
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return path
	}
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

func stageFlag(stage Stage) (string, error) {
	switch stage {
	case StageDetail:
		return "detail_fetched", nil
	case StagePerf:
		return "performance_derived", nil
	case StageFrames:
		return "frames_flattened", nil
	case StageFramesLive:
		return "frames_flattened_live", nil
	case StageMatchups:
		return "matchups_extracted", nil
	default:
		return "", errors.Newf("unknown stage %q", stage)
	}
}

func variantFlag(variant FrameVariant) (string, error) {
	switch variant {
	case FramesFull:
		return "frames_flattened", nil
	case FramesLive:
		return "frames_flattened_live", nil
	default:
		return "", errors.Newf("unknown frame variant %q", variant)
	}
}

// stageWhere is the predicate selecting refs for stage. The ref table is
// aliased r.
func stageWhere(stage Stage) (string, error) {
	if stage == StageTimeline {
		return "r.detail_fetched AND EXISTS (SELECT 1 FROM match_details d WHERE d.match_id = r.match_id AND d.timeline IS NULL)", nil
	}
	flag, err := stageFlag(stage)
	if err != nil {
		return "", err
	}
	switch stage {
	case StageDetail:
		return "NOT r.detail_fetched", nil
	case StageFrames, StageFramesLive:
		return "r.detail_fetched AND NOT r." + flag +
			" AND EXISTS (SELECT 1 FROM match_details d WHERE d.match_id = r.match_id AND d.timeline IS NOT NULL)", nil
	default:
		return "r.detail_fetched AND NOT r." + flag, nil
	}
}
