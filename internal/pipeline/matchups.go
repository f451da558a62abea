package pipeline

import (
	"context"
	"strings"

	"riot-ingester/internal/riot"
	"riot-ingester/internal/store"
)

// Lanes in the order matchups are emitted.
var Lanes = []string{"top", "jungle", "middle", "bottom", "utility"}

// LaneMatchups pairs the two players of each lane. Lanes without exactly two
// players are left out.
func LaneMatchups(match *riot.MatchDetail, matchID string) []store.LaneMatchup {
	byLane := make(map[string][]store.MatchupSide, len(Lanes))
	for _, p := range match.Info.Participants {
		lane := strings.ToLower(p.IndividualPosition)
		byLane[lane] = append(byLane[lane], store.MatchupSide{
			Champion:                    p.ChampionName,
			Assists:                     p.Assists,
			Deaths:                      p.Deaths,
			GoldEarned:                  p.GoldEarned,
			Kills:                       p.Kills,
			PUUID:                       p.PUUID,
			SummonerName:                p.SummonerName,
			TotalDamageDealtToChampions: p.TotalDamageDealtToChampions,
			TotalMinionsKilled:          p.TotalMinionsKilled,
			VisionScore:                 p.VisionScore,
			Win:                         p.Win,
		})
	}

	var out []store.LaneMatchup
	for _, lane := range Lanes {
		sides := byLane[lane]
		if len(sides) != 2 {
			continue
		}
		out = append(out, store.LaneMatchup{
			MatchupID:   matchID + "_" + lane,
			MatchID:     matchID,
			Lane:        lane,
			GameVersion: match.Info.GameVersion,
			Sides:       [2]store.MatchupSide{sides[0], sides[1]},
		})
	}
	return out
}

func buildMatchups(d *store.MatchDetail) (int, writeFunc, error) {
	match, err := riot.ParseMatchDetail(d.Payload)
	if err != nil {
		return 0, nil, err
	}
	rows := LaneMatchups(match, d.MatchID)

	write := func(ctx context.Context, w store.Writer) error {
		if _, err := w.PutLaneMatchups(ctx, rows); err != nil {
			return err
		}
		return w.MarkMatchupsExtracted(ctx, d.MatchID)
	}
	return len(rows), write, nil
}
