// Package tagging talks to the remote story listing and tagging services.
package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/techne/internal/ranking"
)

const (
	DefaultBaseURL    = "https://techne-pipeline-func-prod.azurewebsites.net/api"
	DefaultListingURL = "https://hacker-news.firebaseio.com/v0/topstories.json"

	storyTagsPath  = "/story-tags/"
	threadTagsPath = "/thread-tags/"

	defaultTimeout = 15 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrEmptyListing is returned when the listing service has no ids.
var ErrEmptyListing = errors.New("no story ids found")

// Entry is the tagging service's answer for one story or thread. Any of the
// slices may be missing or shorter than the others.
type Entry struct {
	ID         int64    `json:"id"`
	Tags       []string `json:"tags"`
	TagTypes   []string `json:"tag_types"`
	TagAnchors []string `json:"tag_anchors"`
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	ListingURL string
	Timeout    time.Duration
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

// Client fetches story ids and their tags.
type Client struct {
	baseURL    string
	listingURL string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ListingURL == "" {
		opts.ListingURL = DefaultListingURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = initialBackoff
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		listingURL: opts.ListingURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		backoff:    opts.Backoff,
	}
}

// TopStoryIDs returns at most limit ids from the listing service, in
// listing order. limit <= 0 returns them all.
func (c *Client) TopStoryIDs(ctx context.Context, limit int) ([]int64, error) {
	body, err := c.do(ctx, http.MethodGet, c.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching story ids: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decoding story IDs: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyListing
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type storyTagsRequest struct {
	IDs               []int64  `json:"ids"`
	LimitTagsPerStory bool     `json:"limit_tags_per_story"`
	TagTypes          []string `json:"tag_types,omitempty"`
}

type threadTagsRequest struct {
	ThreadIDs         []int64  `json:"thread_ids"`
	LimitTagsPerStory bool     `json:"limit_tags_per_story"`
	TagTypes          []string `json:"tag_types,omitempty"`
}

// StoryTags fetches tags for story ids, filtered to tagTypes when non-empty.
func (c *Client) StoryTags(ctx context.Context, ids []int64, tagTypes []string, limitPerStory bool) ([]Entry, error) {
	return c.postTags(ctx, storyTagsPath, storyTagsRequest{IDs: ids, LimitTagsPerStory: limitPerStory, TagTypes: tagTypes})
}

// ThreadTags fetches tags for comment thread ids.
func (c *Client) ThreadTags(ctx context.Context, ids []int64, tagTypes []string) ([]Entry, error) {
	return c.postTags(ctx, threadTagsPath, threadTagsRequest{ThreadIDs: ids, TagTypes: tagTypes})
}

func (c *Client) postTags(ctx context.Context, path string, req any) ([]Entry, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("fetching tags from %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding tags from %s: %w", path, err)
	}
	return entries, nil
}

// retryableError marks HTTP 429 and 5xx answers.
type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// do runs one request, retrying 429 and 5xx answers with exponential backoff.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := range maxRetries {
		body, err := c.once(ctx, method, url, payload)
		if err == nil {
			return body, nil
		}
		if !isRetryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// Flatten turns entries into (tag, type, anchor) triples in entry order.
// A position where any of the three values is missing or empty is dropped.
func Flatten(entries []Entry) []ranking.Triple {
	var out []ranking.Triple
	for _, e := range entries {
		for i, tag := range e.Tags {
			if tag == "" || i >= len(e.TagTypes) || i >= len(e.TagAnchors) {
				continue
			}
			if e.TagTypes[i] == "" || e.TagAnchors[i] == "" {
				continue
			}
			out = append(out, ranking.Triple{Tag: tag, Type: e.TagTypes[i], Anchor: e.TagAnchors[i]})
		}
	}
	return out
}
