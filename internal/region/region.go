// Package region maps League server shards to the regional clusters used by
// the match-v5 and account-v1 endpoints.
package region

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Regional clusters
const (
	Americas = "americas"
	Europe   = "europe"
	Asia     = "asia"
	SEA      = "sea"
)

// ErrUnknownRegion is returned for shards that are not in the table.
var ErrUnknownRegion = errors.New("unknown region")

var shardClusters = map[string]string{
	"euw1": Europe,
	"eun1": Europe,
	"ru":   Europe,
	"tr1":  Europe,

	"br1": Americas,
	"la1": Americas,
	"la2": Americas,
	"na1": Americas,

	"jp1": Asia,
	"kr":  Asia,

	"oc1": SEA,
	"ph2": SEA,
	"sg2": SEA,
	"th2": SEA,
	"tw2": SEA,
	"vn2": SEA,
}

// Cluster returns the regional cluster for a shard (e.g. "na1" -> "americas").
func Cluster(shard string) (string, error) {
	cluster, ok := shardClusters[strings.ToLower(shard)]
	if !ok {
		return "", errors.Wrapf(ErrUnknownRegion, "shard %q", shard)
	}
	return cluster, nil
}

// Tagline returns the default Riot ID tagline for players on a shard.
func Tagline(shard string) string {
	switch s := strings.ToLower(shard); s {
	case "euw1":
		return "EUW"
	case "eun1":
		return "EUNE"
	default:
		return strings.ToUpper(s)
	}
}

// Resolve returns both the cluster and the display tagline for a shard.
func Resolve(shard string) (cluster, tagline string, err error) {
	cluster, err = Cluster(shard)
	if err != nil {
		return "", "", err
	}
	return cluster, Tagline(shard), nil
}

// AccountCluster returns the cluster that serves account-v1 for a shard.
// account-v1 has no sea route, those shards are served by asia.
func AccountCluster(shard string) (string, error) {
	cluster, err := Cluster(shard)
	if err != nil {
		return "", err
	}
	if cluster == SEA {
		return Asia, nil
	}
	return cluster, nil
}

// ShardFromMatchID extracts the shard from a match id of the form SHARD_NUMBER.
func ShardFromMatchID(matchID string) (string, error) {
	prefix, _, ok := strings.Cut(matchID, "_")
	if !ok || prefix == "" {
		return "", errors.Newf("malformed match id %q", matchID)
	}
	shard := strings.ToLower(prefix)
	if _, known := shardClusters[shard]; !known {
		return "", errors.Wrapf(ErrUnknownRegion, "match id %q", matchID)
	}
	return shard, nil
}

// ClusterForMatch returns the cluster that serves a match id.
func ClusterForMatch(matchID string) (string, error) {
	shard, err := ShardFromMatchID(matchID)
	if err != nil {
		return "", err
	}
	return Cluster(shard)
}

// Shards returns every known shard in sorted order.
func Shards() []string {
	shards := make([]string, 0, len(shardClusters))
	for s := range shardClusters {
		shards = append(shards, s)
	}
	sort.Strings(shards)
	return shards
}

// IsKnown reports whether a shard is in the table.
func IsKnown(shard string) bool {
	_, ok := shardClusters[strings.ToLower(shard)]
	return ok
}
