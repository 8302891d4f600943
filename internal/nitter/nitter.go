// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package nitter fetches Twitter posts through Nitter RSS mirrors.
package nitter

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"go.astrophena.name/unhook/internal/feed"
	"go.astrophena.name/unhook/internal/logger"
	"go.astrophena.name/unhook/internal/request"

	"github.com/mmcdole/gofeed"
)

// defaultInstances are tried in order when no override is configured.
var defaultInstances = []string{
	"https://nitter.poast.org",
	"https://xcancel.com",
	"https://nitter.privacyredirect.com",
}

// browserUserAgent avoids being blocked by Nitter instances.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// Instances returns the Nitter instances to try: NITTER_INSTANCE (single),
// NITTER_INSTANCES (comma-separated) or the built-in defaults.
func Instances(getenv func(string) string) []string {
	if single := getenv("NITTER_INSTANCE"); single != "" {
		return []string{strings.TrimRight(single, "/")}
	}
	if multiple := getenv("NITTER_INSTANCES"); multiple != "" {
		var instances []string
		for _, inst := range strings.Split(multiple, ",") {
			if inst = strings.TrimSpace(inst); inst != "" {
				instances = append(instances, strings.TrimRight(inst, "/"))
			}
		}
		if len(instances) > 0 {
			return instances
		}
	}
	return defaultInstances
}

// LoadUsers reads Twitter usernames from path, one per line, with the @
// prefix stripped. Blank lines and # comments are skipped. A missing file is
// a logged warning and an empty result.
func LoadUsers(path string, logf logger.Logf) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		logf("Twitter users config file not found: %s", path)
		return nil
	}

	var users []string
	for _, line := range strings.Split(string(b), "\n") {
		username := strings.TrimPrefix(strings.TrimSpace(line), "@")
		if username == "" || strings.HasPrefix(username, "#") {
			continue
		}
		users = append(users, username)
	}
	return users
}

// Client fetches Nitter RSS feeds.
type Client struct {
	// Instances are the Nitter instances to try, in order.
	Instances []string
	// HTTPClient is an optional HTTP client to use for requests.
	HTTPClient *http.Client
	// Logf is used for logging. If nil, logs are discarded.
	Logf logger.Logf
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
		return
	}
	logger.Discard(format, args...)
}

// FetchUser fetches the RSS feed for username, trying each instance in
// order until one returns parseable RSS. An empty feed is a valid result.
// When every instance fails, it returns no entries and no error.
func (c *Client) FetchUser(ctx context.Context, username string) []*gofeed.Item {
	for _, instance := range c.Instances {
		url := fmt.Sprintf("%s/%s/rss", instance, username)
		c.logf("Fetching Twitter RSS for @%s from %s.", username, url)

		b, err := request.Make[[]byte](ctx, request.Params{
			Method:     http.MethodGet,
			URL:        url,
			Headers:    map[string]string{"User-Agent": browserUserAgent},
			HTTPClient: c.HTTPClient,
		})
		if err != nil {
			c.logf("Failed to fetch %s: %v", url, err)
			continue
		}
		if !looksLikeRSS(b) {
			c.logf("Response from %s is not RSS.", url)
			continue
		}

		parsed, err := gofeed.NewParser().ParseString(string(b))
		if err != nil {
			c.logf("Error parsing RSS for @%s from %s: %v", username, instance, err)
			continue
		}
		if len(parsed.Items) == 0 {
			c.logf("No entries found for @%s from %s.", username, instance)
			return nil
		}

		c.logf("Fetched %d entries for @%s from %s.", len(parsed.Items), username, instance)
		return parsed.Items
	}

	c.logf("All Nitter instances failed for @%s.", username)
	return nil
}

// looksLikeRSS reports whether body looks like an RSS or Atom document
// rather than an HTML error page.
func looksLikeRSS(body []byte) bool {
	head := string(body)
	if len(head) > 500 {
		head = head[:500]
	}
	if strings.HasPrefix(strings.TrimSpace(head), "<?xml") {
		return true
	}
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed")
}

// IsRetweet reports whether an RSS entry title marks a retweet or reply.
func IsRetweet(title string) bool {
	return strings.HasPrefix(title, "RT by @") || strings.HasPrefix(title, "R to @")
}

// MapEntries converts RSS entries for username into content records.
// Entries older than cutoff or with empty bodies are dropped. Retweet
// attribution is approximate: the timeline owner is recorded as the
// reposter because Nitter RSS doesn't carry the original author in a
// parseable form.
func MapEntries(entries []*gofeed.Item, username string, cutoff time.Time) []feed.Content {
	var contents []feed.Content
	for _, entry := range entries {
		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}
		if !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}

		// Nitter puts the tweet HTML in the description.
		htmlContent := entry.Description
		if htmlContent == "" {
			htmlContent = entry.Content
		}

		// Images are referenced by the HTML that cleaning strips.
		imageURLs := ExtractImages(htmlContent)

		body := CleanHTMLToText(htmlContent)
		if body == "" {
			continue
		}

		title, _, _ := strings.Cut(body, "\n")
		if runes := []rune(title); len(runes) > 60 {
			title = string(runes[:60])
		}

		var repostedBy string
		if IsRetweet(entry.Title) {
			repostedBy = "@" + username
		}

		contents = append(contents, feed.Content{
			Title:      title,
			Author:     "@" + username,
			Published:  published,
			Body:       body,
			ImageURLs:  imageURLs,
			RepostedBy: repostedBy,
		})
	}
	return contents
}

var imgSrcRe = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)

// ExtractImages returns image URLs referenced by html.
func ExtractImages(htmlContent string) []string {
	var urls []string
	for _, m := range imgSrcRe.FindAllStringSubmatch(htmlContent, -1) {
		urls = append(urls, m[1])
	}
	return urls
}

var (
	linkRe    = regexp.MustCompile(`(?i)<a[^>]+href=["']([^"']+)["'][^>]*>([^<]*)</a>`)
	brRe      = regexp.MustCompile(`(?i)<br\s*/?>`)
	pRe       = regexp.MustCompile(`(?i)</?p[^>]*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

// cleanSteps convert tweet HTML to plain text, in order: links become
// markdown, breaks and paragraphs become newlines, remaining tags are
// stripped, entities are decoded and blank runs collapse.
var cleanSteps = []func(string) string{
	func(s string) string { return linkRe.ReplaceAllString(s, "[$2]($1)") },
	func(s string) string { return brRe.ReplaceAllString(s, "\n") },
	func(s string) string { return pRe.ReplaceAllString(s, "\n\n") },
	func(s string) string { return tagRe.ReplaceAllString(s, "") },
	html.UnescapeString,
	func(s string) string { return strings.ReplaceAll(s, "\u00a0", " ") },
	func(s string) string { return newlineRe.ReplaceAllString(s, "\n\n") },
	strings.TrimSpace,
}

// CleanHTMLToText converts tweet HTML to plain text, preserving links as
// markdown.
func CleanHTMLToText(htmlContent string) string {
	for _, step := range cleanSteps {
		htmlContent = step(htmlContent)
	}
	return htmlContent
}

// FetchPosts fetches posts for every configured user, merges them, sorts by
// publication time descending and truncates to limit. sinceDays <= 0
// disables the recency cutoff.
func FetchPosts(ctx context.Context, c *Client, usersPath string, sinceDays, limit int) []feed.Content {
	users := LoadUsers(usersPath, c.logf)
	if len(users) == 0 {
		c.logf("No Twitter users configured.")
		return nil
	}

	var cutoff time.Time
	if sinceDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -sinceDays)
	}

	var all []feed.Content
	for _, username := range users {
		entries := c.FetchUser(ctx, username)
		all = append(all, MapEntries(entries, username, cutoff)...)
	}

	feed.SortByPublished(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}
