package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/retry"
	"github.com/gather-network/gatherx/pkg/utils"
)

// XContent is the canonical representation of one tweet. The label of the
// entity form is the first hashtag, so hashtag order is significant and
// preserved exactly as scraped. The engagement counts are carried for
// downstream consumers but drift between scrape and verification, so
// equivalence ignores them.
type XContent struct {
	Username      string    `json:"username"`
	Text          string    `json:"text"`
	Replies       int64     `json:"replies"`
	Retweets      int64     `json:"retweets"`
	Quotes        int64     `json:"quotes"`
	Likes         int64     `json:"likes"`
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	TweetHashtags []string  `json:"tweet_hashtags"`
}

// XContentFromEntity decodes the content a miner stored for an entity.
// Unknown fields are rejected: the payload must be exactly this model.
func XContentFromEntity(entity data.DataEntity) (XContent, error) {
	var c XContent
	dec := json.NewDecoder(bytes.NewReader(entity.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return XContent{}, fmt.Errorf("decode x content: %w", err)
	}
	if c.URL == "" {
		return XContent{}, errors.New("x content missing url")
	}
	return c, nil
}

// Equivalent reports whether two contents describe the same tweet. Hashtags
// are compared case-insensitively but in order; reordering them changes
// which one becomes the label and is not equivalent.
func (c XContent) Equivalent(o XContent) bool {
	if c.Username != o.Username ||
		c.Text != o.Text ||
		strings.TrimSuffix(c.URL, "/") != strings.TrimSuffix(o.URL, "/") ||
		!c.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if len(c.TweetHashtags) != len(o.TweetHashtags) {
		return false
	}
	for i := range c.TweetHashtags {
		if !strings.EqualFold(c.TweetHashtags[i], o.TweetHashtags[i]) {
			return false
		}
	}
	return true
}

// ToDataEntity converts the content into the entity form miners index. The
// first hashtag, if any, becomes the label.
func (c XContent) ToDataEntity() (data.DataEntity, error) {
	var label *data.DataLabel
	if len(c.TweetHashtags) > 0 {
		l, err := data.NewDataLabel(c.TweetHashtags[0])
		if err != nil {
			return data.DataEntity{}, err
		}
		label = l
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return data.DataEntity{}, err
	}
	return data.DataEntity{
		URI:              c.URL,
		Datetime:         c.Timestamp.UTC(),
		Source:           data.DataSourceX,
		Label:            label,
		Content:          raw,
		ContentSizeBytes: int64(len(raw)),
	}, nil
}

// RunConfig identifies one actor invocation.
type RunConfig struct {
	ActorID  string
	MaxItems int
	Timeout  time.Duration
}

// ActorRunner runs an Apify actor synchronously and returns the dataset
// items the run produced.
type ActorRunner interface {
	Run(ctx context.Context, cfg RunConfig, input map[string]any) ([]json.RawMessage, error)
}

// ApifyRunner calls the hosted Apify API's run-sync endpoint, which blocks
// until the actor finishes and responds with the run's dataset.
type ApifyRunner struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// ApifyOpts is the set of options for a new ApifyRunner.
type ApifyOpts struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewApifyRunner creates a runner with the given options. The token is the
// account's API token; runs are billed against it.
func NewApifyRunner(logger *zap.Logger, o ApifyOpts) *ApifyRunner {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.apify.com"
	}
	if o.Timeout <= 0 {
		// Actor runs routinely take over a minute; the per-run Timeout in
		// RunConfig bounds the actor, this bounds the HTTP round-trip.
		o.Timeout = 3 * time.Minute
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &ApifyRunner{
		baseURL: strings.TrimSuffix(o.BaseURL, "/"),
		token:   o.Token,
		client:  client,
		logger:  logger,
	}
}

// Run implements ActorRunner.
func (r *ApifyRunner) Run(ctx context.Context, cfg RunConfig, input map[string]any) ([]json.RawMessage, error) {
	if cfg.ActorID == "" {
		return nil, errors.New("no actor id configured")
	}

	q := url.Values{}
	q.Set("token", r.token)
	if cfg.MaxItems > 0 {
		q.Set("maxItems", strconv.Itoa(cfg.MaxItems))
	}
	if cfg.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(cfg.Timeout.Seconds())))
	}
	target := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?%s",
		r.baseURL, url.PathEscape(cfg.ActorID), q.Encode())

	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify actor %s: %w", cfg.ActorID, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("apify actor %s: http %d: %s", cfg.ActorID, resp.StatusCode, snippet)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("apify actor %s: decode dataset: %w", cfg.ActorID, err)
	}
	return items, nil
}

// XApifyVerifier replays a tweet's URL through a configured Apify actor and
// compares the returned tweet to what the miner stored.
type XApifyVerifier struct {
	runner   ActorRunner
	actorID  string
	retryCfg retry.Config
	logger   *zap.Logger
}

// XOpts is the set of options for a new XApifyVerifier.
type XOpts struct {
	ActorID string
	Retry   *retry.Config
}

// NewXApifyVerifier creates an x-apify verifier backed by the given runner.
func NewXApifyVerifier(logger *zap.Logger, runner ActorRunner, o XOpts) *XApifyVerifier {
	cfg := retry.QuickConfig()
	if o.Retry != nil {
		cfg = *o.Retry
	}
	return &XApifyVerifier{
		runner:   runner,
		actorID:  o.ActorID,
		retryCfg: cfg,
		logger:   logger,
	}
}

// ID implements Verifier.
func (v *XApifyVerifier) ID() string { return XApifyVerifierID }

// Verify implements Verifier. The actor is asked for exactly the tweet URL
// under verification; an empty dataset means the tweet is gone or was never
// real, which is a verdict. A failed actor run after retries fails the call.
func (v *XApifyVerifier) Verify(ctx context.Context, entities []data.DataEntity) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(entities))
	for i := range entities {
		entity := entities[i]

		if !isValidTweetURL(entity.URI) {
			results = append(results, ValidationResult{
				Reason:                    "Invalid URI",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}

		claimed, err := XContentFromEntity(entity)
		if err != nil {
			v.logger.Warn("[verifier] undecodable x entity",
				zap.String("uri", entity.URI),
				zap.Error(err))
			results = append(results, ValidationResult{
				Reason:                    "Failed to decode data entity",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}

		var items []json.RawMessage
		err = retry.WithBackoff(ctx, v.retryCfg, v.logger, "apify actor run", func() error {
			var runErr error
			items, runErr = v.runner.Run(ctx, RunConfig{
				ActorID:  v.actorID,
				MaxItems: 1,
			}, map[string]any{
				"urls":      []string{claimed.URL},
				"maxTweets": 1,
			})
			return runErr
		})
		if err != nil {
			return nil, fmt.Errorf("run actor for %s: %w", entity.URI, err)
		}

		actual, ok := v.bestEffortParse(items)
		if !ok {
			results = append(results, ValidationResult{
				Reason:                    "Tweet not found or is invalid",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}

		results = append(results, v.compare(actual, claimed, entity))
	}
	return results, nil
}

// bestEffortParse returns the first dataset item that decodes into an
// XContent. Undecodable items are logged and skipped.
func (v *XApifyVerifier) bestEffortParse(items []json.RawMessage) (XContent, bool) {
	for _, item := range items {
		var c XContent
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			v.logger.Debug("[verifier] undecodable dataset item", zap.Error(err))
			continue
		}
		return c, true
	}
	return XContent{}, false
}

func (v *XApifyVerifier) compare(actual, claimed XContent, entity data.DataEntity) ValidationResult {
	result := ValidationResult{ContentSizeBytesValidated: entity.ContentSizeBytes}

	if !actual.Equivalent(claimed) {
		v.logger.Debug("[verifier] x content mismatch",
			zap.String("uri", entity.URI))
		result.Reason = "Content does not match"
		return result
	}

	actualEntity, err := actual.ToDataEntity()
	if err != nil {
		result.Reason = "Failed to convert XContent to DataEntity"
		return result
	}
	if !entityFieldsMatch(actualEntity, entity) {
		result.Reason = "The DataEntity fields are incorrect based on the tweet content"
		return result
	}

	result.IsValid = true
	result.Reason = SuccessReason
	return result
}

// isValidTweetURL accepts status URLs on twitter.com and x.com.
func isValidTweetURL(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "twitter.com", "www.twitter.com", "x.com", "www.x.com":
	default:
		return false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[1] != "status" {
		return false
	}
	_, err = strconv.ParseUint(parts[2], 10, 64)
	return err == nil
}
