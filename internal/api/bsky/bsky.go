// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bsky provides a very minimal client for interacting with the
// Bluesky API.
package bsky

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/unhook/internal/logger"
	"go.astrophena.name/unhook/internal/request"
)

const defaultService = "https://bsky.social"

// Feed names accepted by [Client.FetchFeedPosts].
const (
	FeedTimeline = "timeline" // the authenticated user's home feed
	FeedAuthor   = "author"   // only the authenticated user's own posts
)

// Errors returned by Client.
var (
	ErrNoCredentials = errors.New("bsky: handle and app password must be set")
	ErrInvalidFeed   = errors.New(`bsky: feed must be "timeline" or "author"`)
)

// Client holds configuration for interacting with the Bluesky API.
type Client struct {
	// Handle is the Bluesky handle used for authentication.
	Handle string
	// Password is the app password used for authentication.
	Password string
	// Service is an optional PDS base URL. Defaults to https://bsky.social.
	Service string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Logf is an optional logger. Defaults to discarding log output.
	Logf logger.Logf

	session  *session
	scrubber *strings.Replacer
}

type session struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
		return
	}
	logger.Discard(format, args...)
}

func (c *Client) service() string { return cmp.Or(c.Service, defaultService) }

// login authenticates with com.atproto.server.createSession and stores the
// resulting session on the client. It is a no-op if a session already exists.
func (c *Client) login(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	if c.Handle == "" || c.Password == "" {
		return ErrNoCredentials
	}

	c.scrubber = strings.NewReplacer(c.Password, "[EXPUNGED]")

	sess, err := request.Make[*session](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.service() + "/xrpc/com.atproto.server.createSession",
		Body: map[string]string{
			"identifier": c.Handle,
			"password":   c.Password,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return fmt.Errorf("bsky: authentication failed: %w", err)
	}
	c.session = sess
	c.scrubber = strings.NewReplacer(
		c.Password, "[EXPUNGED]",
		sess.AccessJwt, "[EXPUNGED]",
	)
	c.logf("Authenticated with Bluesky as %s.", sess.Handle)
	return nil
}

type feedResponse struct {
	Feed   []FeedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

// FetchOptions control a [Client.FetchFeedPosts] call.
type FetchOptions struct {
	// Limit is the maximum number of posts to fetch. Defaults to 100.
	Limit int
	// SinceDays limits fetched posts to the last N days, counted from UTC
	// midnight of the reference date. Zero or negative disables the cutoff.
	SinceDays int
	// Now is used as the reference time. Defaults to time.Now.
	Now func() time.Time
	// Feed selects the source feed: FeedTimeline or FeedAuthor. Defaults to
	// FeedTimeline.
	Feed string
}

// FetchFeedPosts fetches the most recent posts from the authenticated user's
// timeline or author feed, following the pagination cursor until the limit is
// reached, the feed is exhausted, or an entire page falls behind the recency
// cutoff.
func (c *Client) FetchFeedPosts(ctx context.Context, opts FetchOptions) ([]FeedItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	feed := cmp.Or(opts.Feed, FeedTimeline)
	if feed != FeedTimeline && feed != FeedAuthor {
		return nil, ErrInvalidFeed
	}

	var cutoff time.Time
	if opts.SinceDays > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		y, m, d := now().UTC().Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		cutoff = midnight.AddDate(0, 0, -opts.SinceDays)
	}

	if err := c.login(ctx); err != nil {
		return nil, err
	}

	var (
		all    []FeedItem
		cursor string
	)

	for len(all) < limit {
		batch := min(100, limit-len(all))

		resp, err := c.getFeedPage(ctx, feed, batch, cursor)
		if err != nil {
			return nil, err
		}
		if len(resp.Feed) == 0 {
			break
		}

		pageHasRecent := false
		for _, item := range resp.Feed {
			if !cutoff.IsZero() {
				created, err := ParseTime(item.Post.Record.Created())
				if err == nil && created.Before(cutoff) {
					continue
				}
			}
			pageHasRecent = true
			all = append(all, item)
			if len(all) >= limit {
				break
			}
		}

		// Don't follow the cursor when the entire page is stale.
		if !cutoff.IsZero() && !pageHasRecent {
			break
		}

		cursor = resp.Cursor
		if cursor == "" {
			break
		}
	}

	c.logf("Fetched %d posts from the %s feed.", len(all), feed)
	return all, nil
}

func (c *Client) getFeedPage(ctx context.Context, feed string, limit int, cursor string) (feedResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var endpoint string
	switch feed {
	case FeedTimeline:
		endpoint = "app.bsky.feed.getTimeline"
	case FeedAuthor:
		endpoint = "app.bsky.feed.getAuthorFeed"
		q.Set("actor", c.session.Handle)
	}

	return request.Make[feedResponse](ctx, request.Params{
		Method: http.MethodGet,
		URL:    c.service() + "/xrpc/" + endpoint + "?" + q.Encode(),
		Headers: map[string]string{
			"Authorization": "Bearer " + c.session.AccessJwt,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.scrubber,
	})
}

// ParseTime parses an ISO 8601 timestamp from the Bluesky API, for example
// "2025-01-06T14:04:52.233Z".
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
