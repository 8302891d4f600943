// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.astrophena.name/unhook/internal/api/bsky"
	"go.astrophena.name/unhook/internal/api/gemini"
	"go.astrophena.name/unhook/internal/cli"
	"go.astrophena.name/unhook/internal/epub"
	"go.astrophena.name/unhook/internal/feed"
	"go.astrophena.name/unhook/internal/gmail"
	"go.astrophena.name/unhook/internal/nitter"
	"go.astrophena.name/unhook/internal/request"
)

func main() { cli.Main(new(app)) }

type app struct {
	init sync.Once

	// flags
	limit           int
	sinceDays       int
	feedName        string
	output          string
	dir             string
	hours           int
	prefix          string
	minLength       int
	repostMinLength int
	rulesPath       string
	usersPath       string
	label           string
	summary         bool

	// configuration from the environment
	bskyHandle    string
	bskyPassword  string
	gmailAddress  string
	gmailPassword string
	geminiKey     string

	// initialized by doInit; overridable in tests
	httpc       *http.Client
	now         func() time.Time
	bskyService string
	gmailAddr   string
	geminiURL   string
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.IntVar(&a.limit, "limit", 0, "Maximum number of posts to fetch (default depends on command).")
	fs.IntVar(&a.sinceDays, "since-days", -1, "Only fetch posts from the last N days (use 0 to disable; default depends on command).")
	fs.StringVar(&a.feedName, "feed", "timeline", "Source feed to fetch: timeline for home feed, author for only your posts.")
	fs.StringVar(&a.output, "output", "", "Output filename for fetch (default: YYYY-MM-DD.json).")
	// The default respects a value preset before flag registration.
	fs.StringVar(&a.dir, "dir", cmp.Or(a.dir, "exports"), "Directory to save EPUBs to.")
	fs.IntVar(&a.hours, "hours", 24, "Only include posts from the last N hours in the EPUB.")
	fs.StringVar(&a.prefix, "prefix", "", "Filename prefix for the EPUB (default depends on command).")
	fs.IntVar(&a.minLength, "min-length", 100, "Minimum length (in characters) a post must have to include.")
	fs.IntVar(&a.repostMinLength, "repost-min-length", 300, "Minimum length (in characters) a repost must have to include.")
	fs.StringVar(&a.rulesPath, "rules", "", "Path to a Starlark file with keep/block filtering rules.")
	fs.StringVar(&a.usersPath, "users", "twitter_users.txt", "Path to the Twitter users config file.")
	fs.StringVar(&a.label, "label", "newsletters-kindle", "Gmail label to fetch emails from.")
	fs.BoolVar(&a.summary, "summary", false, "Prepend a Gemini-generated digest chapter to the EPUB.")
}

func (a *app) doInit() {
	if a.httpc == nil {
		a.httpc = request.DefaultClient
	}
	if a.now == nil {
		a.now = time.Now
	}
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	a.bskyHandle = cmp.Or(a.bskyHandle, env.Getenv("BLUESKY_HANDLE"))
	a.bskyPassword = cmp.Or(a.bskyPassword, env.Getenv("BLUESKY_APP_PASSWORD"))
	a.gmailAddress = cmp.Or(a.gmailAddress, env.Getenv("GMAIL_ADDRESS"))
	a.gmailPassword = cmp.Or(a.gmailPassword, env.Getenv("GMAIL_APP_PASSWORD"))
	a.geminiKey = cmp.Or(a.geminiKey, env.Getenv("GEMINI_API_KEY"))

	a.init.Do(a.doInit)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}

	switch command := env.Args[0]; command {
	case "fetch":
		return a.fetch(ctx)
	case "epub":
		return a.exportPosts(ctx)
	case "gmail":
		return a.exportGmail(ctx)
	case "twitter":
		return a.exportTwitter(ctx)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) bskyClient(ctx context.Context) *bsky.Client {
	return &bsky.Client{
		Handle:     a.bskyHandle,
		Password:   a.bskyPassword,
		Service:    a.bskyService,
		HTTPClient: a.httpc,
		Logf:       cli.GetEnv(ctx).Logf,
	}
}

// sinceDaysOr returns the -since-days flag value, or def when the flag was
// not set. Zero disables the cutoff.
func (a *app) sinceDaysOr(def int) int {
	if a.sinceDays < 0 {
		return def
	}
	return a.sinceDays
}

func (a *app) fetch(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	posts, err := a.bskyClient(ctx).FetchFeedPosts(ctx, bsky.FetchOptions{
		Limit:     cmp.Or(a.limit, 100),
		SinceDays: a.sinceDaysOr(7),
		Now:       a.now,
		Feed:      a.feedName,
	})
	if err != nil {
		return err
	}

	output := a.output
	if output == "" {
		output = a.now().UTC().Format(time.DateOnly) + ".json"
	}

	b, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, b, 0o644); err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "Saved %d posts to %s\n", len(posts), output)
	return nil
}

func (a *app) exportPosts(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	var rl *rules
	if a.rulesPath != "" {
		var err error
		rl, err = loadRules(a.rulesPath)
		if err != nil {
			return err
		}
	}

	raw, err := a.bskyClient(ctx).FetchFeedPosts(ctx, bsky.FetchOptions{
		Limit:     cmp.Or(a.limit, 200),
		SinceDays: 1,
		Now:       a.now,
	})
	if err != nil {
		return err
	}

	cutoff := a.now().UTC().Add(-time.Duration(a.hours) * time.Hour)
	items := feed.Dedupe(feed.FilterRecent(raw, cutoff))
	repostInfo := feed.RepostInfo(items)

	var own, reposts []bsky.FeedItem
	for _, item := range items {
		if feed.IsRepost(item) {
			reposts = append(reposts, item)
		} else {
			own = append(own, item)
		}
	}

	own = feed.FilterTopLevel(feed.ConsolidateSelfThreads(own))
	reposts = feed.ConsolidateSelfThreads(reposts)

	contents := feed.FilterByLength(feed.MapContent(own, repostInfo), a.minLength)
	contents = append(contents, feed.FilterByLength(feed.MapContent(reposts, repostInfo), a.repostMinLength)...)
	contents = rl.apply(contents, env.Logf)
	feed.SortByPublished(contents)

	if len(contents) == 0 {
		fmt.Fprintln(env.Stderr, "No posts found matching criteria. Skipping.")
		return nil
	}

	chapters := a.renderChapters(ctx, contents)
	if a.summary {
		if digest := a.digestChapter(ctx, contents); digest != nil {
			chapters = append([]epub.Chapter{*digest}, chapters...)
		}
	}

	path, err := a.writeEpub(
		fmt.Sprintf("Recent posts (%dh)", a.hours),
		chapters,
		cmp.Or(a.prefix, "posts"),
		a.now().Format("20060102150405"),
		env.Logf,
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Saved EPUB to %s\n", path)
	return nil
}

// renderChapters downloads and compresses every referenced image and renders
// contents into chapters. Render failures are logged and the chapter is
// skipped.
func (a *app) renderChapters(ctx context.Context, contents []feed.Content) []epub.Chapter {
	logf := cli.GetEnv(ctx).Logf

	var urls []string
	for _, c := range contents {
		urls = append(urls, c.ImageURLs...)
	}
	images := epub.DownloadImages(ctx, urls, a.httpc, logf)
	for url, b := range images {
		images[url] = epub.CompressImage(b)
	}

	var chapters []epub.Chapter
	for i, c := range contents {
		ch, err := epub.RenderPost(c, i+1, images, logf)
		if err != nil {
			logf("Failed to render %q: %v", c.Title, err)
			continue
		}
		chapters = append(chapters, ch)
	}
	return chapters
}

// digestChapter asks Gemini for a short digest of the exported posts. Any
// failure is logged and the chapter is skipped.
func (a *app) digestChapter(ctx context.Context, contents []feed.Content) *epub.Chapter {
	logf := cli.GetEnv(ctx).Logf
	if a.geminiKey == "" {
		logf("GEMINI_API_KEY is not set, skipping the digest chapter.")
		return nil
	}

	var sb []byte
	for _, c := range contents {
		sb = append(sb, c.Body...)
		sb = append(sb, "\n\n---\n\n"...)
	}

	g := &gemini.Client{
		APIKey:     a.geminiKey,
		Service:    a.geminiURL,
		HTTPClient: a.httpc,
	}
	const system = "You summarize social media feeds. Write a single concise paragraph capturing the main themes of the posts you are given."
	digest, err := g.GenerateText(ctx, system, string(sb))
	if err != nil {
		logf("Failed to generate the digest: %v", err)
		return nil
	}

	ch, err := epub.RenderPost(feed.Content{
		Title:     "Digest",
		Author:    "Gemini",
		Published: a.now().UTC(),
		Body:      digest,
	}, 0, nil, logf)
	if err != nil {
		logf("Failed to render the digest: %v", err)
		return nil
	}
	return &ch
}

func (a *app) writeEpub(title string, chapters []epub.Chapter, prefix, timestamp string, logf func(string, ...any)) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.dir, fmt.Sprintf("%s-%s.epub", prefix, timestamp))
	if err := epub.Build(title, chapters, path, logf); err != nil {
		return "", err
	}
	return path, nil
}

func (a *app) exportGmail(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	raws, err := gmail.FetchEmails(gmail.Config{
		Address:     a.gmailAddress,
		AppPassword: a.gmailPassword,
		Label:       a.label,
		Addr:        a.gmailAddr,
		Logf:        env.Logf,
	}, a.sinceDaysOr(1))
	if err != nil {
		return err
	}

	var emails []*gmail.Email
	for _, raw := range raws {
		e, err := gmail.ParseEmail(raw)
		if err != nil {
			env.Logf("Failed to parse email %d: %v", raw.UID, err)
			continue
		}
		if e != nil {
			emails = append(emails, e)
		}
	}

	if len(emails) == 0 {
		fmt.Fprintln(env.Stderr, "No emails found matching criteria. Skipping.")
		return nil
	}

	// Newest first.
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Published.After(emails[j].Published)
	})

	var urls []string
	for _, e := range emails {
		urls = append(urls, e.ExternalImageURLs...)
	}
	images := epub.DownloadImages(ctx, urls, a.httpc, env.Logf)
	for url, b := range images {
		images[url] = epub.CompressImage(b)
	}

	var (
		chapters []epub.Chapter
		imageSeq int
	)
	for _, e := range emails {
		chapters = append(chapters, gmail.Render(e, images, &imageSeq, env.Logf))
	}

	date := a.now().Format(time.DateOnly)
	path, err := a.writeEpub("Newsletters - "+date, chapters, cmp.Or(a.prefix, "newsletters"), date, env.Logf)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Saved EPUB to %s\n", path)
	return nil
}

func (a *app) exportTwitter(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	nc := &nitter.Client{
		Instances:  nitter.Instances(env.Getenv),
		HTTPClient: a.httpc,
		Logf:       env.Logf,
	}
	contents := nitter.FetchPosts(ctx, nc, a.usersPath, a.sinceDaysOr(7), cmp.Or(a.limit, 100))
	if len(contents) == 0 {
		fmt.Fprintln(env.Stderr, "No posts found matching criteria. Skipping.")
		return nil
	}

	chapters := a.renderChapters(ctx, contents)
	path, err := a.writeEpub(
		"Twitter posts",
		chapters,
		cmp.Or(a.prefix, "twitter"),
		a.now().Format("20060102150405"),
		env.Logf,
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Saved EPUB to %s\n", path)
	return nil
}
