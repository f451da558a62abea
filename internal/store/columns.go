package store

import (
	"github.com/cockroachdb/errors"
)

// ErrColumnNotAllowed is returned by ChangeColumn for a table/column pair
// outside the whitelist or a flag being cleared.
var ErrColumnNotAllowed = errors.New("column change not allowed")

type changeTarget struct {
	key     string
	columns map[string]bool // column -> is a monotone flag
}

var changeTargets = map[string]changeTarget{
	"players": {
		key: "summoner_id",
		columns: map[string]bool{
			"summoner_name":        false,
			"puuid":                false,
			"encrypted_account_id": false,
			"profile_icon_id":      false,
			"summoner_level":       false,
			"tier":                 false,
			"rank":                 false,
			"league_points":        false,
			"wins":                 false,
			"losses":               false,
			"veteran":              false,
			"inactive":             false,
			"fresh_blood":          false,
			"hot_streak":           false,
		},
	},
	"match_refs": {
		key: "match_id",
		columns: map[string]bool{
			"detail_fetched":        true,
			"performance_derived":   true,
			"frames_flattened":      true,
			"frames_flattened_live": true,
			"matchups_extracted":    true,
		},
	},
}

// checkChange validates a ChangeColumn call and returns the key column.
func checkChange(table, column string, value any) (string, error) {
	target, ok := changeTargets[table]
	if !ok {
		return "", errors.Wrapf(ErrColumnNotAllowed, "table %q", table)
	}
	flag, ok := target.columns[column]
	if !ok {
		return "", errors.Wrapf(ErrColumnNotAllowed, "column %s.%s", table, column)
	}
	if flag {
		b, isBool := value.(bool)
		if !isBool {
			return "", errors.Wrapf(ErrColumnNotAllowed, "flag %s.%s takes a bool, got %T", table, column, value)
		}
		if !b {
			return "", errors.Wrapf(ErrColumnNotAllowed, "flag %s.%s cannot be cleared", table, column)
		}
	}
	return target.key, nil
}
