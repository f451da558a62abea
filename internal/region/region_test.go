package region

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestCluster(t *testing.T) {
	tests := []struct {
		shard string
		want  string
	}{
		{"euw1", Europe},
		{"eun1", Europe},
		{"ru", Europe},
		{"tr1", Europe},
		{"br1", Americas},
		{"la1", Americas},
		{"la2", Americas},
		{"na1", Americas},
		{"jp1", Asia},
		{"kr", Asia},
		{"oc1", SEA},
		{"ph2", SEA},
		{"sg2", SEA},
		{"th2", SEA},
		{"tw2", SEA},
		{"vn2", SEA},
		{"NA1", Americas},
	}

	for _, tt := range tests {
		t.Run(tt.shard, func(t *testing.T) {
			got, err := Cluster(tt.shard)
			if err != nil {
				t.Fatalf("Cluster(%q) returned error: %v", tt.shard, err)
			}
			if got != tt.want {
				t.Errorf("Cluster(%q) = %q, want %q", tt.shard, got, tt.want)
			}
		})
	}
}

func TestCluster_Unknown(t *testing.T) {
	_, err := Cluster("xx9")
	if !errors.Is(err, ErrUnknownRegion) {
		t.Errorf("expected ErrUnknownRegion, got %v", err)
	}
}

func TestTagline(t *testing.T) {
	tests := map[string]string{
		"euw1": "EUW",
		"eun1": "EUNE",
		"na1":  "NA1",
		"kr":   "KR",
		"oc1":  "OC1",
	}
	for shard, want := range tests {
		if got := Tagline(shard); got != want {
			t.Errorf("Tagline(%q) = %q, want %q", shard, got, want)
		}
	}
}

func TestAccountCluster(t *testing.T) {
	got, err := AccountCluster("sg2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Asia {
		t.Errorf("AccountCluster(sg2) = %q, want %q", got, Asia)
	}

	got, err = AccountCluster("euw1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Europe {
		t.Errorf("AccountCluster(euw1) = %q, want %q", got, Europe)
	}
}

func TestShardFromMatchID(t *testing.T) {
	tests := []struct {
		matchID string
		want    string
		wantErr bool
	}{
		{"NA1_4812345678", "na1", false},
		{"EUW1_6543210", "euw1", false},
		{"KR_7000000001", "kr", false},
		{"noprefix", "", true},
		{"_123", "", true},
		{"ZZ9_123", "", true},
	}

	for _, tt := range tests {
		got, err := ShardFromMatchID(tt.matchID)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ShardFromMatchID(%q) expected error", tt.matchID)
			}
			continue
		}
		if err != nil {
			t.Errorf("ShardFromMatchID(%q) unexpected error: %v", tt.matchID, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ShardFromMatchID(%q) = %q, want %q", tt.matchID, got, tt.want)
		}
	}
}

func TestClusterForMatch(t *testing.T) {
	got, err := ClusterForMatch("OC1_55")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != SEA {
		t.Errorf("ClusterForMatch(OC1_55) = %q, want %q", got, SEA)
	}
}

func TestShards(t *testing.T) {
	shards := Shards()
	if len(shards) != 16 {
		t.Fatalf("expected 16 shards, got %d", len(shards))
	}
	for i := 1; i < len(shards); i++ {
		if shards[i-1] > shards[i] {
			t.Errorf("shards not sorted: %q before %q", shards[i-1], shards[i])
		}
	}
}
