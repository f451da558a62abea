package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

const participantsPerMatch = 10

// column extracts one feature from a participant frame.
type column struct {
	name  string
	value func(ts int64, pf riot.ParticipantFrame) float64
}

func champ(name string, get func(*riot.ChampionStats) float64) column {
	return column{name: name, value: func(_ int64, pf riot.ParticipantFrame) float64 { return get(pf.ChampionStats) }}
}

func dmg(name string, get func(*riot.DamageStats) float64) column {
	return column{name: name, value: func(_ int64, pf riot.ParticipantFrame) float64 { return get(pf.DamageStats) }}
}

func frameInt(name string, get func(riot.ParticipantFrame) int) column {
	return column{name: name, value: func(_ int64, pf riot.ParticipantFrame) float64 { return float64(get(pf)) }}
}

var timestampColumn = column{name: "timestamp", value: func(ts int64, _ riot.ParticipantFrame) float64 { return float64(ts) }}

// fullColumns keeps the timeline's own field names.
var fullColumns = []column{
	timestampColumn,
	frameInt("participantId", func(pf riot.ParticipantFrame) int { return pf.ParticipantID }),
	frameInt("level", func(pf riot.ParticipantFrame) int { return pf.Level }),
	frameInt("xp", func(pf riot.ParticipantFrame) int { return pf.XP }),
	frameInt("totalGold", func(pf riot.ParticipantFrame) int { return pf.TotalGold }),
	frameInt("goldPerSecond", func(pf riot.ParticipantFrame) int { return pf.GoldPerSecond }),
	frameInt("minionsKilled", func(pf riot.ParticipantFrame) int { return pf.MinionsKilled }),
	frameInt("jungleMinionsKilled", func(pf riot.ParticipantFrame) int { return pf.JungleMinionsKilled }),
	frameInt("timeEnemySpentControlled", func(pf riot.ParticipantFrame) int { return pf.TimeEnemySpentControlled }),

	champ("abilityPower", func(s *riot.ChampionStats) float64 { return s.AbilityPower }),
	champ("armor", func(s *riot.ChampionStats) float64 { return s.Armor }),
	champ("armorPen", func(s *riot.ChampionStats) float64 { return s.ArmorPen }),
	champ("armorPenPercent", func(s *riot.ChampionStats) float64 { return s.ArmorPenPercent }),
	champ("attackDamage", func(s *riot.ChampionStats) float64 { return s.AttackDamage }),
	champ("attackSpeed", func(s *riot.ChampionStats) float64 { return s.AttackSpeed }),
	champ("bonusArmorPenPercent", func(s *riot.ChampionStats) float64 { return s.BonusArmorPenPercent }),
	champ("bonusMagicPenPercent", func(s *riot.ChampionStats) float64 { return s.BonusMagicPenPercent }),
	champ("ccReduction", func(s *riot.ChampionStats) float64 { return s.CCReduction }),
	champ("cooldownReduction", func(s *riot.ChampionStats) float64 { return s.CooldownReduction }),
	champ("health", func(s *riot.ChampionStats) float64 { return s.Health }),
	champ("healthMax", func(s *riot.ChampionStats) float64 { return s.HealthMax }),
	champ("healthRegen", func(s *riot.ChampionStats) float64 { return s.HealthRegen }),
	champ("lifesteal", func(s *riot.ChampionStats) float64 { return s.Lifesteal }),
	champ("magicPen", func(s *riot.ChampionStats) float64 { return s.MagicPen }),
	champ("magicPenPercent", func(s *riot.ChampionStats) float64 { return s.MagicPenPercent }),
	champ("magicResist", func(s *riot.ChampionStats) float64 { return s.MagicResist }),
	champ("movementSpeed", func(s *riot.ChampionStats) float64 { return s.MovementSpeed }),
	champ("power", func(s *riot.ChampionStats) float64 { return s.Power }),
	champ("powerMax", func(s *riot.ChampionStats) float64 { return s.PowerMax }),
	champ("powerRegen", func(s *riot.ChampionStats) float64 { return s.PowerRegen }),
	champ("spellVamp", func(s *riot.ChampionStats) float64 { return s.SpellVamp }),

	dmg("magicDamageDone", func(s *riot.DamageStats) float64 { return s.MagicDamageDone }),
	dmg("magicDamageDoneToChampions", func(s *riot.DamageStats) float64 { return s.MagicDamageDoneToChampions }),
	dmg("magicDamageTaken", func(s *riot.DamageStats) float64 { return s.MagicDamageTaken }),
	dmg("physicalDamageDone", func(s *riot.DamageStats) float64 { return s.PhysicalDamageDone }),
	dmg("physicalDamageDoneToChampions", func(s *riot.DamageStats) float64 { return s.PhysicalDamageDoneToChampions }),
	dmg("physicalDamageTaken", func(s *riot.DamageStats) float64 { return s.PhysicalDamageTaken }),
	dmg("totalDamageDone", func(s *riot.DamageStats) float64 { return s.TotalDamageDone }),
	dmg("totalDamageDoneToChampions", func(s *riot.DamageStats) float64 { return s.TotalDamageDoneToChampions }),
	dmg("totalDamageTaken", func(s *riot.DamageStats) float64 { return s.TotalDamageTaken }),
	dmg("trueDamageDone", func(s *riot.DamageStats) float64 { return s.TrueDamageDone }),
	dmg("trueDamageDoneToChampions", func(s *riot.DamageStats) float64 { return s.TrueDamageDoneToChampions }),
	dmg("trueDamageTaken", func(s *riot.DamageStats) float64 { return s.TrueDamageTaken }),
}

// liveColumns uses the live client's field names.
var liveColumns = []column{
	timestampColumn,
	champ("abilityPower", func(s *riot.ChampionStats) float64 { return s.AbilityPower }),
	champ("armor", func(s *riot.ChampionStats) float64 { return s.Armor }),
	champ("armorPenetrationFlat", func(s *riot.ChampionStats) float64 { return s.ArmorPen }),
	champ("armorPenetrationPercent", func(s *riot.ChampionStats) float64 { return s.ArmorPenPercent }),
	champ("attackDamage", func(s *riot.ChampionStats) float64 { return s.AttackDamage }),
	champ("attackSpeed", func(s *riot.ChampionStats) float64 { return s.AttackSpeed }),
	champ("bonusArmorPenetrationPercent", func(s *riot.ChampionStats) float64 { return s.BonusArmorPenPercent }),
	champ("bonusMagicPenetrationPercent", func(s *riot.ChampionStats) float64 { return s.BonusMagicPenPercent }),
	champ("cooldownReduction", func(s *riot.ChampionStats) float64 { return s.CooldownReduction }),
	champ("currentHealth", func(s *riot.ChampionStats) float64 { return s.Health }),
	champ("maxHealth", func(s *riot.ChampionStats) float64 { return s.HealthMax }),
	champ("healthRegenRate", func(s *riot.ChampionStats) float64 { return s.HealthRegen }),
	champ("lifesteal", func(s *riot.ChampionStats) float64 { return s.Lifesteal }),
	champ("magicPenetrationFlat", func(s *riot.ChampionStats) float64 { return s.MagicPen }),
	champ("magicPenetrationPercent", func(s *riot.ChampionStats) float64 { return s.MagicPenPercent }),
	champ("magicResist", func(s *riot.ChampionStats) float64 { return s.MagicResist }),
	champ("moveSpeed", func(s *riot.ChampionStats) float64 { return s.MovementSpeed }),
	champ("resourceValue", func(s *riot.ChampionStats) float64 { return s.Power }),
	champ("resourceMax", func(s *riot.ChampionStats) float64 { return s.PowerMax }),
	champ("resourceRegenRate", func(s *riot.ChampionStats) float64 { return s.PowerRegen }),
	champ("spellVamp", func(s *riot.ChampionStats) float64 { return s.SpellVamp }),
}

// ColumnNames returns the feature names of variant in row order.
func ColumnNames(variant store.FrameVariant) []string {
	cols := columnsFor(variant)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func columnsFor(variant store.FrameVariant) []column {
	if variant == store.FramesLive {
		return liveColumns
	}
	return fullColumns
}

// TimelineWinner returns the winning team announced by the GAME_END event
// that closes the final frame.
func TimelineWinner(matchID string, tl *riot.Timeline) (int, error) {
	frames := tl.Info.Frames
	if len(frames) == 0 {
		return 0, riot.Malformed(matchID, "info.frames")
	}
	events := frames[len(frames)-1].Events
	if len(events) == 0 {
		return 0, riot.Malformed(matchID, "info.frames[-1].events")
	}
	last := events[len(events)-1]
	if last.Type != riot.EventGameEnd {
		return 0, riot.Malformed(matchID, "info.frames[-1].events[-1].type")
	}
	if last.WinningTeam != 100 && last.WinningTeam != 200 {
		return 0, riot.Malformed(matchID, "info.frames[-1].events[-1].winningTeam")
	}
	return last.WinningTeam, nil
}

// teamOf maps a participant id to its side: 1-5 blue, 6-10 red.
func teamOf(participantID int) int {
	if participantID <= participantsPerMatch/2 {
		return 100
	}
	return 200
}

// FlattenTimeline turns a timeline into one row per participant per frame.
func FlattenTimeline(matchID string, tl *riot.Timeline, variant store.FrameVariant) ([]store.FrameRow, error) {
	winner, err := TimelineWinner(matchID, tl)
	if err != nil {
		return nil, err
	}
	cols := columnsFor(variant)

	rows := make([]store.FrameRow, 0, len(tl.Info.Frames)*participantsPerMatch)
	for _, frame := range tl.Info.Frames {
		for id := 1; id <= participantsPerMatch; id++ {
			pf, ok := frame.ParticipantFrames[strconv.Itoa(id)]
			if !ok || pf.ChampionStats == nil {
				continue
			}
			if variant == store.FramesFull && pf.DamageStats == nil {
				continue
			}
			pf.ParticipantID = id

			features := make(map[string]float64, len(cols))
			for _, c := range cols {
				features[c.name] = c.value(frame.Timestamp, pf)
			}

			won := 0
			if teamOf(id) == winner {
				won = 1
			}
			rows = append(rows, store.FrameRow{
				MatchID:       matchID,
				ParticipantID: id,
				TimestampMS:   frame.Timestamp,
				Identifier:    fmt.Sprintf("%s_%d", matchID, id),
				Winner:        won,
				Features:      features,
			})
		}
	}
	return rows, nil
}

func buildFrames(d *store.MatchDetail, variant store.FrameVariant) (int, writeFunc, error) {
	if len(d.Timeline) == 0 {
		return 0, nil, riot.Malformed(d.MatchID, "timeline")
	}
	tl, err := riot.ParseTimeline(d.Timeline)
	if err != nil {
		return 0, nil, err
	}
	rows, err := FlattenTimeline(d.MatchID, tl, variant)
	if err != nil {
		return 0, nil, err
	}

	write := func(ctx context.Context, w store.Writer) error {
		if _, err := w.PutFrameRows(ctx, variant, rows); err != nil {
			return err
		}
		return w.MarkFramesFlattened(ctx, d.MatchID, variant)
	}
	return len(rows), write, nil
}
