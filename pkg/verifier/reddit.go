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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/retry"
	"github.com/gather-network/gatherx/pkg/utils"
)

// RedditDataType distinguishes posts from comments.
type RedditDataType string

const (
	RedditPost    RedditDataType = "post"
	RedditComment RedditDataType = "comment"
)

// RedditContent is the canonical representation of one Reddit post or
// comment. Miners serialize it into DataEntity.Content; the verifier rebuilds
// it from Reddit's public listing to compare. ID is the fullname ("t3_..."
// for posts, "t1_..." for comments) and Community keeps the "r/" prefix.
type RedditContent struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Username  string         `json:"username"`
	Community string         `json:"communityName"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"createdAt"`
	DataType  RedditDataType `json:"dataType"`

	// Post-only.
	Title *string `json:"title,omitempty"`

	// Comment-only.
	ParentID *string `json:"parentId,omitempty"`
}

// RedditContentFromEntity decodes the content a miner stored for an entity.
// Unknown fields are rejected: the payload must be exactly this model.
func RedditContentFromEntity(entity data.DataEntity) (RedditContent, error) {
	var c RedditContent
	dec := json.NewDecoder(bytes.NewReader(entity.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return RedditContent{}, fmt.Errorf("decode reddit content: %w", err)
	}
	if c.ID == "" || c.URL == "" {
		return RedditContent{}, errors.New("reddit content missing id or url")
	}
	return c, nil
}

// Equivalent reports whether two contents describe the same Reddit item.
// Subreddit names are case-insensitive on the platform; everything else is
// compared verbatim.
func (c RedditContent) Equivalent(o RedditContent) bool {
	return c.ID == o.ID &&
		strings.TrimSuffix(c.URL, "/") == strings.TrimSuffix(o.URL, "/") &&
		c.Username == o.Username &&
		strings.EqualFold(c.Community, o.Community) &&
		c.Body == o.Body &&
		c.CreatedAt.Equal(o.CreatedAt) &&
		c.DataType == o.DataType &&
		optionalEqual(c.Title, o.Title) &&
		optionalEqual(c.ParentID, o.ParentID)
}

// ToDataEntity converts the content into the entity form miners index; the
// canonical JSON encoding defines the content bytes.
func (c RedditContent) ToDataEntity() (data.DataEntity, error) {
	label, err := data.NewDataLabel(c.Community)
	if err != nil {
		return data.DataEntity{}, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return data.DataEntity{}, err
	}
	return data.DataEntity{
		URI:              c.URL,
		Datetime:         c.CreatedAt.UTC(),
		Source:           data.DataSourceReddit,
		Label:            label,
		Content:          raw,
		ContentSizeBytes: int64(len(raw)),
	}, nil
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return *a == *b
}

// Reddit's listing endpoints are generous, but a hostile redirect should not
// be able to buffer arbitrary amounts of data.
const maxRedditResponseBytes = 8 << 20

var errRedditNotFound = errors.New("reddit content not found")

// RedditLiteVerifier re-fetches entities through Reddit's public JSON
// listings (append ".json" to any permalink) and compares field by field. No
// credentials needed; Reddit only asks for a descriptive User-Agent.
type RedditLiteVerifier struct {
	baseURL   string
	userAgent string
	client    *http.Client
	retryCfg  retry.Config
	logger    *zap.Logger
}

// RedditOpts is the set of options for a new RedditLiteVerifier.
type RedditOpts struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Retry      *retry.Config
	HTTPClient *http.Client
}

// NewRedditLiteVerifier creates a reddit-lite verifier with the given options.
func NewRedditLiteVerifier(logger *zap.Logger, o RedditOpts) *RedditLiteVerifier {
	if o.BaseURL == "" {
		o.BaseURL = "https://www.reddit.com"
	}
	if o.UserAgent == "" {
		o.UserAgent = "gatherx-validator/1.0 (content verification)"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	cfg := retry.QuickConfig()
	if o.Retry != nil {
		cfg = *o.Retry
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &RedditLiteVerifier{
		baseURL:   strings.TrimSuffix(o.BaseURL, "/"),
		userAgent: o.UserAgent,
		client:    client,
		retryCfg:  cfg,
		logger:    logger,
	}
}

// ID implements Verifier.
func (v *RedditLiteVerifier) ID() string { return RedditLiteVerifierID }

// Verify implements Verifier. Each entity is checked independently; a
// per-entity verdict never aborts the rest of the batch. Only Reddit itself
// being unreachable after retries fails the whole call.
func (v *RedditLiteVerifier) Verify(ctx context.Context, entities []data.DataEntity) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(entities))
	for i := range entities {
		entity := entities[i]

		permalink, ok := parseRedditPermalink(entity.URI)
		if !ok {
			results = append(results, ValidationResult{
				Reason:                    "Invalid URI",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}

		claimed, err := RedditContentFromEntity(entity)
		if err != nil {
			v.logger.Warn("[verifier] undecodable reddit entity",
				zap.String("uri", entity.URI),
				zap.Error(err))
			results = append(results, ValidationResult{
				Reason:                    "Failed to decode data entity",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}

		actual, err := v.fetch(ctx, permalink, claimed.ID)
		if errors.Is(err, errRedditNotFound) {
			results = append(results, ValidationResult{
				Reason:                    "Reddit post/comment not found or is invalid",
				ContentSizeBytesValidated: entity.ContentSizeBytes,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reddit fetch for %s: %w", entity.URI, err)
		}

		results = append(results, v.compare(actual, claimed, entity))
	}
	return results, nil
}

// fetch retrieves the permalink's listing and extracts the item whose
// fullname matches the id under verification. A 404 and an id missing from
// the listing both mean the content is gone, which is a verdict, not an
// outage; everything else is retried.
func (v *RedditLiteVerifier) fetch(ctx context.Context, permalink, fullname string) (RedditContent, error) {
	target := v.baseURL + strings.TrimSuffix(permalink, "/") + ".json"

	var content RedditContent
	err := retry.WithBackoff(ctx, v.retryCfg, v.logger, "reddit fetch", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", v.userAgent)

		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = utils.DrainAndClose(resp.Body) }()

		if resp.StatusCode == http.StatusNotFound {
			return retry.Permanent(errRedditNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reddit responded %d", resp.StatusCode)
		}

		listings, err := decodeRedditListings(io.LimitReader(resp.Body, maxRedditResponseBytes))
		if err != nil {
			return err
		}
		found, ok := redditContentByFullname(listings, fullname)
		if !ok {
			return retry.Permanent(errRedditNotFound)
		}
		content = found
		return nil
	})
	return content, err
}

func (v *RedditLiteVerifier) compare(actual, claimed RedditContent, entity data.DataEntity) ValidationResult {
	result := ValidationResult{ContentSizeBytesValidated: entity.ContentSizeBytes}

	if !actual.Equivalent(claimed) {
		v.logger.Debug("[verifier] reddit content mismatch",
			zap.String("uri", entity.URI),
			zap.String("id", claimed.ID))
		result.Reason = "Content does not match"
		return result
	}

	// The content checks out; last, the entity envelope itself must agree
	// with what Reddit serves.
	actualEntity, err := actual.ToDataEntity()
	if err != nil {
		result.Reason = "Failed to convert RedditContent to DataEntity"
		return result
	}
	if !entityFieldsMatch(actualEntity, entity) {
		result.Reason = "The DataEntity fields are incorrect based on the Reddit content"
		return result
	}

	result.IsValid = true
	result.Reason = SuccessReason
	return result
}

// parseRedditPermalink validates the URI points at reddit.com and returns its
// permalink path.
func parseRedditPermalink(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "reddit.com" && !strings.HasSuffix(host, ".reddit.com") {
		return "", false
	}
	if u.Path == "" || u.Path == "/" {
		return "", false
	}
	return u.Path, true
}

// Reddit listing wire format. A permalink's ".json" view returns an array of
// listings (the post, then the comment tree); some endpoints return a single
// listing object instead.
type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []redditThing `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Kind string `json:"kind"` // "t3" post, "t1" comment
	Data struct {
		Name                  string  `json:"name"`
		Permalink             string  `json:"permalink"`
		Author                string  `json:"author"`
		SubredditNamePrefixed string  `json:"subreddit_name_prefixed"`
		Title                 string  `json:"title"`
		SelfText              string  `json:"selftext"`
		Body                  string  `json:"body"`
		ParentID              string  `json:"parent_id"`
		CreatedUTC            float64 `json:"created_utc"`
	} `json:"data"`
}

func decodeRedditListings(r io.Reader) ([]redditListing, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var listings []redditListing
		if err := json.Unmarshal(raw, &listings); err != nil {
			return nil, fmt.Errorf("decode reddit listing: %w", err)
		}
		return listings, nil
	}
	var one redditListing
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}
	return []redditListing{one}, nil
}

// redditContentByFullname scans the listings for the thing with the given
// fullname and converts it into the canonical content model.
func redditContentByFullname(listings []redditListing, fullname string) (RedditContent, bool) {
	for _, listing := range listings {
		for _, thing := range listing.Data.Children {
			if thing.Data.Name != fullname {
				continue
			}
			content, err := contentFromRedditThing(thing)
			if err != nil {
				return RedditContent{}, false
			}
			return content, true
		}
	}
	return RedditContent{}, false
}

func contentFromRedditThing(t redditThing) (RedditContent, error) {
	c := RedditContent{
		ID:        t.Data.Name,
		URL:       "https://www.reddit.com" + t.Data.Permalink,
		Username:  t.Data.Author,
		Community: t.Data.SubredditNamePrefixed,
		CreatedAt: time.Unix(int64(t.Data.CreatedUTC), 0).UTC(),
	}
	switch t.Kind {
	case "t3":
		c.DataType = RedditPost
		c.Body = t.Data.SelfText
		title := t.Data.Title
		c.Title = &title
	case "t1":
		c.DataType = RedditComment
		c.Body = t.Data.Body
		parent := t.Data.ParentID
		c.ParentID = &parent
	default:
		return RedditContent{}, fmt.Errorf("unsupported reddit kind %q", t.Kind)
	}
	return c, nil
}
