package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// Participants above this many levels per minute are data errors.
const maxLevelsPerMinute = 50

// Linear model coefficients.
const (
	coefIntercept = 0.336
	coefDPM       = -1.437
	coefGPM       = 1.170e-4
	coefKAPM      = 4.430e-1
	coefLPM       = 2.640e-1
	coefTDPM      = 1.300e-5
)

// strippedKeys are dropped from the stored participant document.
var strippedKeys = map[string]struct{}{
	"challenges":                    {},
	"eligibleForProgression":        {},
	"totalAllyJungleMinionsKilled":  {},
	"totalEnemyJungleMinionsKilled": {},
	"perks":                         {},
}

// Features are the per-minute rates the model scores.
type Features struct {
	DPM  float64 // f1: deaths
	KAPM float64 // f2: kills + assists
	LPM  float64 // f3: champion level
	TDPM float64 // f4: total damage dealt
	GPM  float64 // f5: gold earned
}

// ParticipantFeatures computes the rates of p over a game of durationMin minutes.
func ParticipantFeatures(p riot.Participant, durationMin float64) Features {
	return Features{
		DPM:  float64(p.Deaths) / durationMin,
		KAPM: float64(p.Kills+p.Assists) / durationMin,
		LPM:  float64(p.ChampLevel) / durationMin,
		TDPM: float64(p.TotalDamageDealt) / durationMin,
		GPM:  float64(p.GoldEarned) / durationMin,
	}
}

// Score is the raw model output.
func (f Features) Score() float64 {
	return coefIntercept +
		coefDPM*f.DPM +
		coefGPM*f.GPM +
		coefKAPM*f.KAPM +
		coefLPM*f.LPM +
		coefTDPM*f.TDPM
}

// Performance is the score scaled to a percentage and rounded to two decimals.
func (f Features) Performance() float64 {
	return math.Round(f.Score()*100*100) / 100
}

func buildPerformance(d *store.MatchDetail) (int, writeFunc, error) {
	if d.GameDurationSeconds <= 0 {
		return 0, nil, riot.Malformed(d.MatchID, "info.gameDuration")
	}
	match, err := riot.ParseMatchDetail(d.Payload)
	if err != nil {
		return 0, nil, err
	}

	durationMin := float64(d.GameDurationSeconds) / 60
	rows := make([]store.PerformanceRow, 0, len(match.Info.Participants))
	for _, p := range match.Info.Participants {
		f := ParticipantFeatures(p, durationMin)
		if f.LPM > maxLevelsPerMinute {
			continue
		}
		row := store.PerformanceRow{
			MatchID:       d.MatchID,
			ParticipantID: p.ParticipantID,
			PUUID:         p.PUUID,
			SummonerName:  p.SummonerName,
			ChampionName:  p.ChampionName,
			TeamID:        p.TeamID,
			Win:           p.Win,
			DurationMin:   durationMin,
			F1:            f.DPM,
			F2:            f.KAPM,
			F3:            f.LPM,
			F4:            f.TDPM,
			F5:            f.GPM,
			Performance:   f.Performance(),
		}
		if row.Document, err = performanceDocument(p, row); err != nil {
			return 0, nil, err
		}
		rows = append(rows, row)
	}

	write := func(ctx context.Context, w store.Writer) error {
		if _, err := w.PutPerformanceRows(ctx, rows); err != nil {
			return err
		}
		return w.MarkPerfDerived(ctx, d.MatchID)
	}
	return len(rows), write, nil
}

// performanceDocument merges the stripped participant record with the
// derived fields of row.
func performanceDocument(p riot.Participant, row store.PerformanceRow) ([]byte, error) {
	doc := make(map[string]any, len(p.Stats)+9)
	for k, v := range p.Stats {
		if stripped(k) {
			continue
		}
		doc[k] = v
	}
	doc["match_id"] = row.MatchID
	doc["participant_id"] = row.ParticipantID
	doc["duration_min"] = row.DurationMin
	doc["f1"] = row.F1
	doc["f2"] = row.F2
	doc["f3"] = row.F3
	doc["f4"] = row.F4
	doc["f5"] = row.F5
	doc["calculated_player_performance"] = row.Performance

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "encode performance document for participant %d", row.ParticipantID)
	}
	return b, nil
}

// stripped reports whether key is left out of the document. Every ping
// counter ends in "Pings".
func stripped(key string) bool {
	if _, ok := strippedKeys[key]; ok {
		return true
	}
	return strings.HasSuffix(key, "Pings")
}
