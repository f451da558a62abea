package riot

import (
	json "github.com/goccy/go-json"
)

// Tier is one of the apex ladders.
type Tier string

const (
	Challenger  Tier = "challenger"
	Grandmaster Tier = "grandmaster"
	Master      Tier = "master"
)

// ApexTiers are crawled in this order.
var ApexTiers = []Tier{Challenger, Grandmaster, Master}

// LeagueList represents the response from /lol/league/v4/{tier}leagues/by-queue/{queue}
type LeagueList struct {
	LeagueID string       `json:"leagueId"`
	Tier     string       `json:"tier"`
	Name     string       `json:"name"`
	Queue    string       `json:"queue"`
	Entries  []LeagueItem `json:"entries"`
}

// LeagueItem is one ladder entry.
type LeagueItem struct {
	SummonerID   string `json:"summonerId"`
	SummonerName string `json:"summonerName"`
	PUUID        string `json:"puuid"`
	Rank         string `json:"rank"` // I for apex tiers
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Veteran      bool   `json:"veteran"`
	Inactive     bool   `json:"inactive"`
	FreshBlood   bool   `json:"freshBlood"`
	HotStreak    bool   `json:"hotStreak"`
}

// Summoner represents the response from /lol/summoner/v4/summoners/by-name/{name}
type Summoner struct {
	ID            string `json:"id"`
	AccountID     string `json:"accountId"`
	PUUID         string `json:"puuid"`
	Name          string `json:"name"`
	ProfileIconID int    `json:"profileIconId"`
	SummonerLevel int64  `json:"summonerLevel"`
	RevisionDate  int64  `json:"revisionDate"`
}

// Account represents the response from /riot/account/v1/accounts/by-riot-id
type Account struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

// MatchIDQuery selects a window of match ids for a player.
type MatchIDQuery struct {
	Type  string // "ranked", "normal", ...
	Queue int    // optional queue id filter, 0 for any
	Start int
	Count int // 1..100
}

// MatchDetail represents the response from /lol/match/v5/matches/{matchId}
type MatchDetail struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     MatchInfo     `json:"info"`

	// Raw is the payload as received.
	Raw []byte `json:"-"`
}

type MatchMetadata struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"` // PUUIDs
}

type MatchInfo struct {
	GameCreation     int64         `json:"gameCreation"`
	GameDuration     int64         `json:"gameDuration"`
	GameEndTimestamp int64         `json:"gameEndTimestamp"`
	GameVersion      string        `json:"gameVersion"`
	QueueID          int           `json:"queueId"`
	Teams            []Team        `json:"teams"`
	Participants     []Participant `json:"participants"`
}

type Team struct {
	TeamID int  `json:"teamId"`
	Win    bool `json:"win"`
}

// Participant holds the fields the pipeline reads. Stats keeps every field of
// the record so the full statistics can be persisted.
type Participant struct {
	ParticipantID               int    `json:"participantId"`
	PUUID                       string `json:"puuid"`
	SummonerName                string `json:"summonerName"`
	RiotIDGameName              string `json:"riotIdGameName"`
	RiotIDTagline               string `json:"riotIdTagline"`
	ChampionID                  int    `json:"championId"`
	ChampionName                string `json:"championName"`
	ChampLevel                  int    `json:"champLevel"`
	TeamID                      int    `json:"teamId"`
	TeamPosition                string `json:"teamPosition"`
	IndividualPosition          string `json:"individualPosition"`
	Win                         bool   `json:"win"`
	Kills                       int    `json:"kills"`
	Deaths                      int    `json:"deaths"`
	Assists                     int    `json:"assists"`
	GoldEarned                  int    `json:"goldEarned"`
	TotalDamageDealt            int64  `json:"totalDamageDealt"`
	TotalDamageDealtToChampions int64  `json:"totalDamageDealtToChampions"`
	TotalMinionsKilled          int    `json:"totalMinionsKilled"`
	VisionScore                 int    `json:"visionScore"`

	Stats map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the full record in Stats.
func (p *Participant) UnmarshalJSON(data []byte) error {
	type plain Participant
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*p = Participant(typed)
	p.Stats = all
	return nil
}

// DurationSeconds returns the game length in seconds. Payloads produced
// before gameEndTimestamp existed report gameDuration in milliseconds.
func (i MatchInfo) DurationSeconds() int64 {
	if i.GameEndTimestamp == 0 && i.GameDuration > 100000 {
		return i.GameDuration / 1000
	}
	return i.GameDuration
}

// WinningTeam returns 100 or 200, or 0 when no team is marked as winner.
func (i MatchInfo) WinningTeam() int {
	for _, t := range i.Teams {
		if t.Win {
			return t.TeamID
		}
	}
	for _, p := range i.Participants {
		if p.Win {
			return p.TeamID
		}
	}
	return 0
}

// Timeline represents the response from /lol/match/v5/matches/{matchId}/timeline
type Timeline struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     TimelineInfo  `json:"info"`

	Raw []byte `json:"-"`
}

type TimelineInfo struct {
	FrameInterval int     `json:"frameInterval"`
	Frames        []Frame `json:"frames"`
}

type Frame struct {
	Timestamp         int64                       `json:"timestamp"`
	ParticipantFrames map[string]ParticipantFrame `json:"participantFrames"`
	Events            []Event                     `json:"events"`
}

type Event struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	ParticipantID int    `json:"participantId,omitempty"`
	ItemID        int    `json:"itemId,omitempty"`
	WinningTeam   int    `json:"winningTeam,omitempty"`
}

// EventGameEnd is the terminal event of a finished game.
const EventGameEnd = "GAME_END"

// ParticipantFrame is one participant's snapshot inside a frame.
type ParticipantFrame struct {
	ParticipantID            int            `json:"participantId"`
	Level                    int            `json:"level"`
	XP                       int            `json:"xp"`
	TotalGold                int            `json:"totalGold"`
	CurrentGold              int            `json:"currentGold"`
	GoldPerSecond            int            `json:"goldPerSecond"`
	MinionsKilled            int            `json:"minionsKilled"`
	JungleMinionsKilled      int            `json:"jungleMinionsKilled"`
	TimeEnemySpentControlled int            `json:"timeEnemySpentControlled"`
	ChampionStats            *ChampionStats `json:"championStats"`
	DamageStats              *DamageStats   `json:"damageStats"`
}

type ChampionStats struct {
	AbilityHaste         float64 `json:"abilityHaste"`
	AbilityPower         float64 `json:"abilityPower"`
	Armor                float64 `json:"armor"`
	ArmorPen             float64 `json:"armorPen"`
	ArmorPenPercent      float64 `json:"armorPenPercent"`
	AttackDamage         float64 `json:"attackDamage"`
	AttackSpeed          float64 `json:"attackSpeed"`
	BonusArmorPenPercent float64 `json:"bonusArmorPenPercent"`
	BonusMagicPenPercent float64 `json:"bonusMagicPenPercent"`
	CCReduction          float64 `json:"ccReduction"`
	CooldownReduction    float64 `json:"cooldownReduction"`
	Health               float64 `json:"health"`
	HealthMax            float64 `json:"healthMax"`
	HealthRegen          float64 `json:"healthRegen"`
	Lifesteal            float64 `json:"lifesteal"`
	MagicPen             float64 `json:"magicPen"`
	MagicPenPercent      float64 `json:"magicPenPercent"`
	MagicResist          float64 `json:"magicResist"`
	MovementSpeed        float64 `json:"movementSpeed"`
	Omnivamp             float64 `json:"omnivamp"`
	PhysicalVamp         float64 `json:"physicalVamp"`
	Power                float64 `json:"power"`
	PowerMax             float64 `json:"powerMax"`
	PowerRegen           float64 `json:"powerRegen"`
	SpellVamp            float64 `json:"spellVamp"`
}

type DamageStats struct {
	MagicDamageDone               float64 `json:"magicDamageDone"`
	MagicDamageDoneToChampions    float64 `json:"magicDamageDoneToChampions"`
	MagicDamageTaken              float64 `json:"magicDamageTaken"`
	PhysicalDamageDone            float64 `json:"physicalDamageDone"`
	PhysicalDamageDoneToChampions float64 `json:"physicalDamageDoneToChampions"`
	PhysicalDamageTaken           float64 `json:"physicalDamageTaken"`
	TotalDamageDone               float64 `json:"totalDamageDone"`
	TotalDamageDoneToChampions    float64 `json:"totalDamageDoneToChampions"`
	TotalDamageTaken              float64 `json:"totalDamageTaken"`
	TrueDamageDone                float64 `json:"trueDamageDone"`
	TrueDamageDoneToChampions     float64 `json:"trueDamageDoneToChampions"`
	TrueDamageTaken               float64 `json:"trueDamageTaken"`
}

// ParseMatchDetail decodes and validates a match payload.
func ParseMatchDetail(raw []byte) (*MatchDetail, error) {
	var d MatchDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &MalformedError{Field: "json: " + err.Error()}
	}
	id := d.Metadata.MatchID
	switch {
	case id == "":
		return nil, Malformed("", "metadata.matchId")
	case d.Info.GameDuration <= 0:
		return nil, Malformed(id, "info.gameDuration")
	case len(d.Info.Participants) == 0:
		return nil, Malformed(id, "info.participants")
	}
	for _, p := range d.Info.Participants {
		if p.ParticipantID < 1 || p.ParticipantID > 10 {
			return nil, Malformed(id, "participants[].participantId")
		}
	}
	d.Raw = raw
	return &d, nil
}

// ParseTimeline decodes and validates a timeline payload.
func ParseTimeline(raw []byte) (*Timeline, error) {
	var tl Timeline
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, &MalformedError{Field: "json: " + err.Error()}
	}
	if tl.Metadata.MatchID == "" {
		return nil, Malformed("", "metadata.matchId")
	}
	if len(tl.Info.Frames) == 0 {
		return nil, Malformed(tl.Metadata.MatchID, "info.frames")
	}
	tl.Raw = raw
	return &tl, nil
}
