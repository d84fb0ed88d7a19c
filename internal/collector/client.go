// Package collector implements the rate-limited, retrying client that talks
// to the external video platform, plus a stub for tests and dev mode.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/metrics"
)

// Default endpoints; overridable for tests.
const (
	defaultAPIBase    = "https://api.bilibili.com"
	defaultSearchBase = "https://search.bilibili.com"
	defaultVideoBase  = "https://www.bilibili.com"

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	pageSize       = 20
	retryBackoff   = 500 * time.Millisecond
	hardFetchLimit = 200
)

var searchOrder = map[string]string{
	"relevance": "totalrank",
	"new":       "pubdate",
	"views":     "click",
}

// Config controls Client behavior. Rate/retry/timeout seed the initial
// knobs; Reconfigure refreshes them from the system setting at each run.
type Config struct {
	RateLimitPerSec int
	RetryTimes      int
	Timeout         time.Duration
	Cookie          string
	UserAgent       string
	Referer         string
	APIBase         string
	SearchBase      string
	VideoBase       string
}

// Client is the live core.Collector implementation. All outbound calls are
// strictly serialized through a minimum inter-call interval; each call is
// retried with linear backoff and degrades to an empty result on exhaustion.
// Pacing, retry and timeout knobs can be refreshed between runs via
// Reconfigure.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	httpClient  *http.Client
	minInterval time.Duration
	retryTimes  int
	lastRequest time.Time
}

// New constructs a live Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.RateLimitPerSec < 1 {
		cfg.RateLimitPerSec = 1
	}
	if cfg.RetryTimes < 0 {
		cfg.RetryTimes = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(core.DefaultTimeoutSeconds) * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Referer == "" {
		cfg.Referer = defaultVideoBase
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.SearchBase == "" {
		cfg.SearchBase = defaultSearchBase
	}
	if cfg.VideoBase == "" {
		cfg.VideoBase = defaultVideoBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		minInterval: time.Second / time.Duration(cfg.RateLimitPerSec),
		retryTimes:  cfg.RetryTimes,
		logger:      logger,
	}
}

// Reconfigure applies the current system setting to the pacing, retry and
// timeout knobs. The runner calls this at the start of every run so operator
// changes take effect without a restart. Safe for concurrent use with
// in-flight calls, which finish under the snapshot they started with.
func (c *Client) Reconfigure(setting core.SystemSetting) {
	rate := setting.RateLimitPerSec
	if rate < 1 {
		rate = 1
	}
	retries := setting.RetryTimes
	if retries < 0 {
		retries = 0
	}
	timeout := time.Duration(setting.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(core.DefaultTimeoutSeconds) * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.minInterval = time.Second / time.Duration(rate)
	c.retryTimes = retries
	if c.httpClient.Timeout != timeout {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// snapshot reads the mutable knobs one call operates under.
func (c *Client) snapshot() (int, *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryTimes, c.httpClient
}

// Search fetches candidates for one keyword, preferring the structured
// endpoint and falling back to parsing the rendered search page. Results
// older than the scope's day window are dropped and the count is capped.
func (c *Client) Search(ctx context.Context, keyword string, scope core.TaskScope) ([]core.Candidate, error) {
	limit := scope.FetchLimit
	if limit < 1 {
		limit = 1
	}
	if limit > hardFetchLimit {
		limit = hardFetchLimit
	}
	maxPages := (limit + pageSize - 1) / pageSize

	var results []core.Candidate
	for page := 1; len(results) < limit && page <= maxPages; page++ {
		items := c.searchByAPI(ctx, keyword, page, scope)
		if len(items) == 0 {
			items = c.searchByHTML(ctx, keyword, page, scope)
		}
		if len(items) == 0 {
			break
		}
		results = append(results, items...)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -scope.DaysLimit)
	filtered := results[:0]
	for _, item := range results {
		if item.PublishTime != nil && item.PublishTime.Before(cutoff) {
			continue
		}
		filtered = append(filtered, item)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// Detail fetches the enriched view of one video, falling back to the embedded
// state blob of the rendered page when the structured endpoint is empty.
func (c *Client) Detail(ctx context.Context, bvid string) (core.VideoDetail, error) {
	params := url.Values{"bvid": {bvid}}
	data := c.requestJSON(ctx, "detail", c.cfg.APIBase+"/x/web-interface/view", params)
	if payload, ok := data["data"].(map[string]any); ok {
		return detailFromPayload(bvid, payload), nil
	}

	page := c.requestText(ctx, "detail_page", c.cfg.VideoBase+"/video/"+bvid, nil)
	if page == "" {
		return core.VideoDetail{}, ctx.Err()
	}
	blob := extractInitialState(page)
	if blob == nil {
		blob = extractNextData(page)
	}
	if blob == nil {
		return core.VideoDetail{}, nil
	}
	videoData, ok := findKey(blob, "videoData").(map[string]any)
	if !ok {
		return core.VideoDetail{}, nil
	}
	return detailFromPayload(bvid, videoData), nil
}

// Stats returns the raw counters for one video.
func (c *Client) Stats(ctx context.Context, bvid string) (core.Stats, error) {
	detail, err := c.Detail(ctx, bvid)
	if err != nil {
		return core.Stats{}, err
	}
	return detail.Stats, nil
}

// CreatorInfo fetches the uploader's follower count.
func (c *Client) CreatorInfo(ctx context.Context, upID string) (core.CreatorInfo, error) {
	if upID == "" {
		return core.CreatorInfo{}, nil
	}
	params := url.Values{"vmid": {upID}}
	data := c.requestJSON(ctx, "creator", c.cfg.APIBase+"/x/relation/stat", params)
	payload, ok := data["data"].(map[string]any)
	if !ok {
		return core.CreatorInfo{}, ctx.Err()
	}
	return core.CreatorInfo{FollowerCount: parseCount(payload["follower"])}, nil
}

// Subtitle fetches and joins the first available subtitle track, or returns
// an empty string when the video has none.
func (c *Client) Subtitle(ctx context.Context, bvid string) (string, error) {
	detail, err := c.Detail(ctx, bvid)
	if err != nil || detail.CID == 0 {
		return "", err
	}
	params := url.Values{
		"bvid": {bvid},
		"cid":  {strconv.FormatInt(detail.CID, 10)},
	}
	data := c.requestJSON(ctx, "player", c.cfg.APIBase+"/x/player/v2", params)
	payload, _ := data["data"].(map[string]any)
	subtitle, _ := payload["subtitle"].(map[string]any)
	tracks, _ := subtitle["subtitles"].([]any)
	if len(tracks) == 0 {
		return "", ctx.Err()
	}
	track, _ := tracks[0].(map[string]any)
	subURL, _ := track["url"].(string)
	if subURL == "" {
		return "", nil
	}
	body := c.requestJSON(ctx, "subtitle", normalizeURL(subURL), nil)
	lines, _ := body["body"].([]any)
	if len(lines) == 0 {
		return "", ctx.Err()
	}
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if entry, ok := line.(map[string]any); ok {
			if content, ok := entry["content"].(string); ok {
				parts = append(parts, content)
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (c *Client) searchByAPI(ctx context.Context, keyword string, page int, scope core.TaskScope) []core.Candidate {
	order, ok := searchOrder[scope.SearchSort]
	if !ok {
		order = "totalrank"
	}
	params := url.Values{
		"search_type": {"video"},
		"keyword":     {keyword},
		"page":        {strconv.Itoa(page)},
		"order":       {order},
	}
	if tids := joinPartitions(scope.PartitionIDs); tids != "" {
		params.Set("tids", tids)
	}

	data := c.requestJSON(ctx, "search", c.cfg.APIBase+"/x/web-interface/search/type", params)
	if data == nil || parseCount(data["code"]) != 0 {
		return nil
	}
	payload, ok := data["data"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := payload["result"].([]any)
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	var results []core.Candidate
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		bvid, _ := item["bvid"].(string)
		if bvid == "" {
			continue
		}
		results = append(results, core.Candidate{
			BVID:        bvid,
			Title:       stripHTML(firstString(item, "title")),
			UpID:        stringify(item["mid"]),
			UpName:      firstString(item, "author"),
			PublishTime: parseTime(item["pubdate"], now),
			CoverURL:    normalizeURL(firstString(item, "pic")),
			Stats: core.Stats{
				Views: parseCount(item["play"]),
				Like:  parseCount(item["like"]),
				Fav:   parseCount(item["favorites"]),
				Coin:  parseCount(item["coin"]),
				Reply: parseCount(item["review"]),
				Share: parseCount(item["share"]),
			},
		})
	}
	return results
}

func (c *Client) searchByHTML(ctx context.Context, keyword string, page int, scope core.TaskScope) []core.Candidate {
	params := url.Values{
		"keyword": {keyword},
		"page":    {strconv.Itoa(page)},
	}
	if order, ok := searchOrder[scope.SearchSort]; ok {
		params.Set("order", order)
	}
	if tids := joinPartitions(scope.PartitionIDs); tids != "" {
		params.Set("tids", tids)
	}

	text := c.requestText(ctx, "search_page", c.cfg.SearchBase+"/video", params)
	if text == "" {
		return nil
	}
	blob := extractNextData(text)
	if blob == nil {
		blob = extractInitialState(text)
	}
	if blob == nil {
		return nil
	}

	now := time.Now().UTC()
	var results []core.Candidate
	for _, item := range collectVideoItems(blob) {
		bvid, _ := item["bvid"].(string)
		if bvid == "" {
			continue
		}
		results = append(results, core.Candidate{
			BVID:        bvid,
			Title:       stripHTML(firstString(item, "title")),
			UpID:        stringify(firstValue(item, "mid", "up_id", "author_mid")),
			UpName:      firstString(item, "author", "up_name"),
			PublishTime: parseTime(firstValue(item, "pubdate", "pubdate_text", "ptime"), now),
			CoverURL:    normalizeURL(firstString(item, "pic", "cover", "picurl")),
			Stats:       htmlItemStats(item),
		})
	}
	return results
}

// requestJSON performs a paced GET and decodes a JSON object. Attempts are
// bounded by retry_times+1 with linear backoff; exhaustion returns nil so the
// caller degrades instead of failing the pass.
func (c *Client) requestJSON(ctx context.Context, endpoint, rawURL string, params url.Values) map[string]any {
	body := c.request(ctx, endpoint, rawURL, params)
	if body == nil {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Debug("collector response not JSON", zap.String("endpoint", endpoint), zap.Error(err))
		return nil
	}
	return data
}

func (c *Client) requestText(ctx context.Context, endpoint, rawURL string, params url.Values) string {
	return string(c.request(ctx, endpoint, rawURL, params))
}

func (c *Client) request(ctx context.Context, endpoint, rawURL string, params url.Values) []byte {
	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}
	retries, httpClient := c.snapshot()
	for attempt := 0; attempt <= retries; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil
		}
		start := time.Now()
		body, status, err := c.get(ctx, httpClient, target)
		if err != nil {
			metrics.ObserveCollectorRequest(endpoint, "error", time.Since(start))
			if attempt >= retries {
				c.logger.Warn("collector call exhausted retries",
					zap.String("endpoint", endpoint),
					zap.Int("attempts", attempt+1),
					zap.Error(err),
				)
				return nil
			}
			if !sleepCtx(ctx, retryBackoff*time.Duration(attempt+1)) {
				return nil
			}
			continue
		}
		if status != http.StatusOK {
			metrics.ObserveCollectorRequest(endpoint, strconv.Itoa(status), time.Since(start))
			continue
		}
		metrics.ObserveCollectorRequest(endpoint, "ok", time.Since(start))
		return body
	}
	return nil
}

func (c *Client) get(ctx context.Context, httpClient *http.Client, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", c.cfg.Referer)
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// pace enforces the minimum inter-call interval. Callers are serialized: the
// mutex is held across the wait so concurrent calls queue up behind each other.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wait := c.minInterval - time.Since(c.lastRequest)
	if wait > 0 {
		metrics.ObserveRateLimitWait(wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func detailFromPayload(bvid string, payload map[string]any) core.VideoDetail {
	stat, _ := payload["stat"].(map[string]any)
	owner, _ := payload["owner"].(map[string]any)
	id, _ := payload["bvid"].(string)
	if id == "" {
		id = bvid
	}
	return core.VideoDetail{
		BVID:        id,
		Title:       stripHTML(firstString(payload, "title")),
		UpID:        stringify(owner["mid"]),
		UpName:      firstString(owner, "name"),
		PublishTime: parseTime(payload["pubdate"], time.Now().UTC()),
		CoverURL:    normalizeURL(firstString(payload, "pic")),
		CID:         parseCount(payload["cid"]),
		Stats:       statsFromMap(stat),
	}
}

func statsFromMap(stat map[string]any) core.Stats {
	return core.Stats{
		Views: parseCount(stat["view"]),
		Like:  parseCount(stat["like"]),
		Fav:   parseCount(stat["favorite"]),
		Coin:  parseCount(stat["coin"]),
		Reply: parseCount(stat["reply"]),
		Share: parseCount(stat["share"]),
	}
}

// htmlItemStats reads stats off a loosely-shaped search page item, falling
// back to the nested stat object when top-level fields are absent.
func htmlItemStats(item map[string]any) core.Stats {
	stat, _ := item["stat"].(map[string]any)
	pick := func(statField string, itemKeys ...string) any {
		if v := firstValue(item, itemKeys...); v != nil {
			return v
		}
		if stat != nil {
			return stat[statField]
		}
		return nil
	}
	return core.Stats{
		Views: parseCount(pick("view", "play", "view")),
		Like:  parseCount(pick("like", "like")),
		Fav:   parseCount(pick("favorite", "favorite", "fav")),
		Coin:  parseCount(pick("coin", "coin")),
		Reply: parseCount(pick("reply", "review", "reply")),
		Share: parseCount(pick("share", "share")),
	}
}

func joinPartitions(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
