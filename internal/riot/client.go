package riot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"riot-ingester/internal/metrics"
	"riot-ingester/internal/retry"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Retry-After default when a 429 carries no header.
	defaultRetryAfter = 10 * time.Second

	// Consecutive 429s tolerated for one call before ErrThrottled is surfaced.
	DefaultMaxThrottleRetries = 3

	// Upper bound of MatchIDsByPUUID's count parameter.
	MaxMatchIDCount = 100

	maxBodyBytes = 32 << 20
)

// Client is a rate-limited Riot API client. All requests pass through the
// governor and carry the X-Riot-Token header.
type Client struct {
	apiKey             string
	httpClient         *http.Client
	governor           *Governor
	logger             *zap.Logger
	retry              retry.Config
	maxThrottleRetries int

	// baseURL overrides https://{route}.api.riotgames.com when set.
	baseURL string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientBaseURL routes every request to url regardless of shard or cluster.
func WithClientBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetry sets the backoff used for 5xx responses.
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithMaxThrottleRetries sets how many 429s one call absorbs.
func WithMaxThrottleRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxThrottleRetries = n
	}
}

// NewClient creates a new Riot API client.
func NewClient(apiKey string, governor *Governor, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("riot api key is empty")
	}
	if governor == nil {
		return nil, errors.New("riot client requires a governor")
	}

	c := &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		governor:           governor,
		logger:             zap.NewNop(),
		retry:              retry.DefaultConfig(),
		maxThrottleRetries: DefaultMaxThrottleRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("riot")
	return c, nil
}

func (c *Client) endpoint(route, path string) string {
	if c.baseURL != "" {
		return c.baseURL + path
	}
	return fmt.Sprintf("https://%s.api.riotgames.com%s", route, path)
}

// get performs a governed GET and returns the body of a 200 response.
// 5xx responses are retried with backoff, 429 responses pause the bucket
// and are retried through Acquire.
func (c *Client) get(ctx context.Context, class EndpointClass, route, path string) ([]byte, error) {
	var body []byte
	op := string(class) + "@" + route

	err := retry.WithBackoff(ctx, c.retry, c.logger, op, func() error {
		b, err := c.getThrottled(ctx, class, route, path)
		if err == nil {
			body = b
			return nil
		}
		if errors.Is(err, ErrUpstream) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			return nil, errors.Mark(err, ErrCancelled)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) getThrottled(ctx context.Context, class EndpointClass, route, path string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.do(ctx, class, route, path)
		if err == nil || !errors.Is(err, ErrThrottled) || attempt >= c.maxThrottleRetries {
			return body, err
		}
		c.logger.Info("throttled, waiting on governor",
			zap.String("class", string(class)),
			zap.String("route", route),
			zap.Duration("retry_after", RetryAfter(err)),
			zap.Int("attempt", attempt+1))
	}
}

// do issues exactly one HTTP request under one permit.
func (c *Client) do(ctx context.Context, class EndpointClass, route, path string) ([]byte, error) {
	permit, err := c.governor.Acquire(ctx, class, route)
	if err != nil {
		return nil, &APIError{Class: class, Route: route, kind: err}
	}

	var retryAfter time.Duration
	defer func() { c.governor.Release(permit, retryAfter) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(route, path), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("X-Riot-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RiotRequestDuration.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, &APIError{Class: class, Route: route, kind: ErrCancelled}
		}
		metrics.RiotRequests.WithLabelValues(string(class), "transport").Inc()
		return nil, errors.Wrapf(&APIError{Class: class, Route: route, kind: ErrUpstream}, "transport: %v", err)
	}
	defer resp.Body.Close()

	metrics.RiotRequests.WithLabelValues(string(class), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &APIError{Class: class, Route: route, kind: ErrCancelled}
			}
			return nil, errors.Wrapf(&APIError{Class: class, Route: route, Status: resp.StatusCode, kind: ErrUpstream}, "read body: %v", err)
		}
		return body, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, NewAPIError(class, route, resp.StatusCode, retryAfter)
}

// parseRetryAfter accepts delta-seconds, fractional seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func (c *Client) getJSON(ctx context.Context, class EndpointClass, route, path string, out any) error {
	body, err := c.get(ctx, class, route, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &MalformedError{Field: fmt.Sprintf("%s body: %v", class, err)}
	}
	return nil
}

// TopPlayers fetches the challenger, grandmaster or master ladder of a queue on a shard.
func (c *Client) TopPlayers(ctx context.Context, shard, queue string, tier Tier) (*LeagueList, error) {
	path := fmt.Sprintf("/lol/league/v4/%sleagues/by-queue/%s", tier, url.PathEscape(queue))

	var list LeagueList
	if err := c.getJSON(ctx, ClassLeague, shard, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SummonerByName fetches a summoner on a shard.
func (c *Client) SummonerByName(ctx context.Context, shard, name string) (*Summoner, error) {
	path := "/lol/summoner/v4/summoners/by-name/" + url.PathEscape(name)

	var s Summoner
	if err := c.getJSON(ctx, ClassSummoner, shard, path, &s); err != nil {
		return nil, err
	}
	if s.PUUID == "" {
		return nil, Malformed("", "summoner.puuid")
	}
	return &s, nil
}

// AccountByRiotID fetches account info by Riot ID (gameName#tagLine).
func (c *Client) AccountByRiotID(ctx context.Context, cluster, gameName, tagLine string) (*Account, error) {
	path := fmt.Sprintf("/riot/account/v1/accounts/by-riot-id/%s/%s",
		url.PathEscape(gameName), url.PathEscape(tagLine))

	var account Account
	if err := c.getJSON(ctx, ClassAccount, cluster, path, &account); err != nil {
		return nil, err
	}
	if account.PUUID == "" {
		return nil, Malformed("", "account.puuid")
	}
	return &account, nil
}

// MatchIDsByPUUID fetches one window of match ids for a player.
func (c *Client) MatchIDsByPUUID(ctx context.Context, cluster, puuid string, q MatchIDQuery) ([]string, error) {
	if q.Count < 1 || q.Count > MaxMatchIDCount {
		return nil, errors.Newf("match id count %d outside 1..%d", q.Count, MaxMatchIDCount)
	}
	if q.Start < 0 {
		return nil, errors.Newf("match id start %d is negative", q.Start)
	}

	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.Queue > 0 {
		params.Set("queue", strconv.Itoa(q.Queue))
	}
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("count", strconv.Itoa(q.Count))
	path := fmt.Sprintf("/lol/match/v5/matches/by-puuid/%s/ids?%s", url.PathEscape(puuid), params.Encode())

	var ids []string
	if err := c.getJSON(ctx, ClassMatchList, cluster, path, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// MatchDetail fetches and parses a match.
func (c *Client) MatchDetail(ctx context.Context, cluster, matchID string) (*MatchDetail, error) {
	body, err := c.get(ctx, ClassMatch, cluster, "/lol/match/v5/matches/"+url.PathEscape(matchID))
	if err != nil {
		return nil, err
	}
	return ParseMatchDetail(body)
}

// MatchTimeline fetches and parses a match timeline.
func (c *Client) MatchTimeline(ctx context.Context, cluster, matchID string) (*Timeline, error) {
	body, err := c.get(ctx, ClassTimeline, cluster, "/lol/match/v5/matches/"+url.PathEscape(matchID)+"/timeline")
	if err != nil {
		return nil, err
	}
	return ParseTimeline(body)
}
