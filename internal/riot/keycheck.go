package riot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
)

const (
	platformDataPath = "/lol/status/v4/platform-data"

	defaultCheckShard   = "na1"
	defaultCheckTimeout = 10 * time.Second
)

// PlatformStatus is the part of the status-v4 platform record a key check reports.
type PlatformStatus struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Maintenances []json.RawMessage `json:"maintenances"`
	Incidents    []json.RawMessage `json:"incidents"`
}

// KeyCheck asks a shard's status endpoint whether a key is accepted. It
// bypasses the governor and is meant to run once before a pass starts.
type KeyCheck struct {
	shard  string
	host   string
	client *http.Client
}

type KeyCheckOption func(*KeyCheck)

// CheckHost sends the check to host instead of the shard's API host.
func CheckHost(host string) KeyCheckOption {
	return func(k *KeyCheck) { k.host = host }
}

func CheckTimeout(d time.Duration) KeyCheckOption {
	return func(k *KeyCheck) {
		if d > 0 {
			k.client.Timeout = d
		}
	}
}

// NewKeyCheck checks keys against shard, na1 when empty.
func NewKeyCheck(shard string, opts ...KeyCheckOption) *KeyCheck {
	if shard == "" {
		shard = defaultCheckShard
	}
	k := &KeyCheck{
		shard:  shard,
		client: &http.Client{Timeout: defaultCheckTimeout},
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.host == "" {
		k.host = fmt.Sprintf("https://%s.api.riotgames.com", shard)
	}
	return k
}

// Run returns the shard's platform status when apiKey is accepted. A
// rejected key fails with an *APIError of kind ErrForbidden. Any other error
// says nothing about the key.
func (k *KeyCheck) Run(ctx context.Context, apiKey string) (*PlatformStatus, error) {
	if apiKey == "" {
		return nil, errors.New("key check: no api key configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.host+platformDataPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "key check: build request")
	}
	req.Header.Set("X-Riot-Token", apiKey)

	resp, err := k.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Mark(errors.Wrapf(err, "key check on %s", k.shard), ErrCancelled)
		}
		return nil, errors.Mark(errors.Wrapf(err, "key check on %s", k.shard), ErrUpstream)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "key check on %s: read body", k.shard), ErrUpstream)
	}
	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, NewAPIError(ClassStatus, k.shard, resp.StatusCode, retryAfter)
	}

	var status PlatformStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "key check on %s: decode platform status", k.shard), ErrMalformed)
	}
	return &status, nil
}
