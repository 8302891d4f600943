// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed normalizes raw Bluesky feed items into content ready for
// rendering: deduplication, self-thread consolidation, repost attribution,
// rich-text facet rewriting and filtering.
package feed

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.astrophena.name/unhook/internal/api/bsky"
)

// Content is a normalized post ready for rendering.
type Content struct {
	Title      string
	Author     string
	Published  time.Time
	Body       string
	ImageURLs  []string
	RepostedBy string
}

// threadSuffix marks URIs of synthetic posts produced by thread
// consolidation.
const threadSuffix = "#thread"

// Dedupe returns items with duplicate URIs removed, keeping the first
// occurrence and preserving order.
func Dedupe(items []bsky.FeedItem) []bsky.FeedItem {
	seen := make(map[string]bool)
	var unique []bsky.FeedItem
	for _, item := range items {
		uri := item.Post.URI
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		unique = append(unique, item)
	}
	return unique
}

// FindSelfThreads groups items into author-consistent reply chains.
//
// A self thread is a chain of two or more posts where each post replies
// directly to the previous one and every post shares the same author. Only
// posts present in items are considered when constructing chains. Each
// returned chain is ordered root first.
func FindSelfThreads(items []bsky.FeedItem) [][]bsky.FeedItem {
	byURI := make(map[string]bsky.FeedItem)
	for _, item := range items {
		if uri := item.Post.URI; uri != "" {
			byURI[uri] = item
		}
	}

	// Map each post to its parent, but only when the parent exists locally
	// and the authors match.
	parentOf := make(map[string]string)
	isParent := make(map[string]bool)
	for _, item := range items {
		uri := item.Post.URI
		if uri == "" {
			continue
		}
		parentURI := item.Post.Record.Reply.ParentURI()
		if parentURI == "" {
			continue
		}
		parent, ok := byURI[parentURI]
		if !ok {
			continue
		}
		if parent.Post.Author.Identifier() != item.Post.Author.Identifier() {
			continue
		}
		parentOf[uri] = parentURI
		isParent[parentURI] = true
	}

	var threads [][]bsky.FeedItem
	for _, item := range items {
		uri := item.Post.URI
		if _, isChild := parentOf[uri]; !isChild || isParent[uri] {
			continue
		}
		// uri is a leaf; walk up to the root.
		var chain []bsky.FeedItem
		for cur := uri; cur != ""; cur = parentOf[cur] {
			post, ok := byURI[cur]
			if !ok {
				break
			}
			chain = append(chain, post)
		}
		if len(chain) < 2 {
			continue
		}
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		threads = append(threads, chain)
	}
	return threads
}

// ConsolidateThreads collapses each chain into one synthetic post with the
// chain's texts joined by blank lines and all embedded images unioned. The
// synthetic post takes the root's author and timestamp; its URI is the root
// URI with a thread marker appended.
func ConsolidateThreads(threads [][]bsky.FeedItem) []bsky.FeedItem {
	var consolidated []bsky.FeedItem
	for _, thread := range threads {
		if len(thread) == 0 {
			continue
		}
		root := thread[0].Post

		var (
			parts  []string
			images []bsky.EmbedImage
		)
		for _, entry := range thread {
			if text := strings.TrimSpace(entry.Post.Record.Text); text != "" {
				parts = append(parts, text)
			}
			if entry.Post.Embed == nil {
				continue
			}
			for _, img := range entry.Post.Embed.Images {
				if url := img.URL(); url != "" {
					images = append(images, bsky.EmbedImage{Fullsize: url})
				}
			}
		}

		synthetic := bsky.FeedItem{
			Post: bsky.Post{
				URI:    root.URI + threadSuffix,
				CID:    root.CID + "-thread",
				Author: root.Author,
				Record: bsky.Record{
					Text:      strings.Join(parts, "\n\n"),
					CreatedAt: root.Record.Created(),
				},
			},
		}
		if len(images) > 0 {
			synthetic.Post.Embed = &bsky.Embed{Images: images}
		}
		consolidated = append(consolidated, synthetic)
	}
	return consolidated
}

// ConsolidateSelfThreads detects self threads in items and replaces each
// chain with its consolidated synthetic post, placed at the root's position.
// Items that belong to no chain pass through unchanged.
func ConsolidateSelfThreads(items []bsky.FeedItem) []bsky.FeedItem {
	threads := FindSelfThreads(items)
	if len(threads) == 0 {
		return items
	}
	merged := ConsolidateThreads(threads)

	replace := make(map[string]bsky.FeedItem) // root URI -> synthetic
	member := make(map[string]bool)
	for i, thread := range threads {
		for _, entry := range thread {
			member[entry.Post.URI] = true
		}
		replace[thread[0].Post.URI] = merged[i]
	}

	var out []bsky.FeedItem
	for _, item := range items {
		uri := item.Post.URI
		if synthetic, ok := replace[uri]; ok {
			out = append(out, synthetic)
			continue
		}
		if member[uri] {
			continue
		}
		out = append(out, item)
	}
	return out
}

// IsRepost reports whether item is a repost, either via the feed reason or
// the record type.
func IsRepost(item bsky.FeedItem) bool {
	if strings.Contains(item.Reason.TypeName(), bsky.ReasonRepost) {
		return true
	}
	return item.Post.Record.TypeName() == bsky.RepostType
}

// ReposterHandle returns the handle (or DID) of the account that reposted
// item, or an empty string if item is not a repost.
func ReposterHandle(item bsky.FeedItem) string {
	if !IsRepost(item) || item.Reason == nil || item.Reason.By == nil {
		return ""
	}
	// Note that handle wins over DID here, unlike [bsky.Author.Identifier]:
	// the attribution is shown to the reader.
	return cmp.Or(item.Reason.By.Handle, item.Reason.By.DID)
}

// RepostInfo maps post URIs to reposter handles for all reposts in items.
func RepostInfo(items []bsky.FeedItem) map[string]string {
	info := make(map[string]string)
	for _, item := range items {
		if handle := ReposterHandle(item); handle != "" {
			info[item.Post.URI] = handle
		}
	}
	return info
}

// FilterTopLevel drops replies and reposts, keeping only original top-level
// posts.
func FilterTopLevel(items []bsky.FeedItem) []bsky.FeedItem {
	var out []bsky.FeedItem
	for _, item := range items {
		if item.Post.Record.Reply != nil {
			continue
		}
		if IsRepost(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// FilterRecent keeps items created at or after cutoff. Items with a missing
// or unparseable timestamp are dropped.
func FilterRecent(items []bsky.FeedItem, cutoff time.Time) []bsky.FeedItem {
	var out []bsky.FeedItem
	for _, item := range items {
		created, err := bsky.ParseTime(item.Post.Record.Created())
		if err != nil {
			continue
		}
		if created.Before(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// MapContent converts feed items into Content records. repostInfo, as
// returned by [RepostInfo], attributes reposts; it may be nil.
func MapContent(items []bsky.FeedItem, repostInfo map[string]string) []Content {
	var mapped []Content
	for _, item := range items {
		post := item.Post

		body := strings.TrimSpace(RewriteFacetLinks(post.Record.Text, post.Record.Facets))
		if quote := quotedText(post.Embed); quote != "" {
			if body != "" {
				body += "\n\n"
			}
			body += quote
		}

		published := time.Now().UTC()
		if t, err := bsky.ParseTime(post.Record.Created()); err == nil {
			published = t
		}

		author := post.Author.Handle
		if author == "" {
			author = post.Author.DID
		}
		if author == "" {
			author = "unknown"
		}

		var urls []string
		if post.Embed != nil {
			for _, img := range post.Embed.Images {
				if url := img.URL(); url != "" {
					urls = append(urls, url)
				}
			}
		}

		mapped = append(mapped, Content{
			Title:      titleOf(body),
			Author:     author,
			Published:  published,
			Body:       body,
			ImageURLs:  urls,
			RepostedBy: reposterFor(post.URI, repostInfo),
		})
	}
	return mapped
}

// reposterFor looks up the reposter handle for uri, falling back to the
// thread root for synthetic thread URIs.
func reposterFor(uri string, repostInfo map[string]string) string {
	if handle, ok := repostInfo[uri]; ok {
		return handle
	}
	if root, ok := strings.CutSuffix(uri, threadSuffix); ok {
		return repostInfo[root]
	}
	return ""
}

// quotedText renders an embedded quoted post, or returns an empty string
// when there is nothing quotable (no embedded record, or the record is
// blocked, deleted or detached).
func quotedText(embed *bsky.Embed) string {
	if embed == nil || embed.Record == nil {
		return ""
	}
	rec := embed.Record
	if rec.Unavailable() || rec.Value == nil {
		return ""
	}
	text := strings.TrimSpace(rec.Value.Text)
	if text == "" {
		return ""
	}
	return "Quoted from " + cmp.Or(rec.Author.Handle, rec.Author.DID) + ":\n" + text
}

func titleOf(body string) string {
	if body == "" {
		return "Untitled"
	}
	line, _, _ := strings.Cut(body, "\n")
	if runes := []rune(line); len(runes) > 60 {
		line = string(runes[:60])
	}
	if line == "" {
		return "Untitled"
	}
	return line
}

// RewriteFacetLinks replaces byte-offset link spans in text with markdown
// links of the form [linkN](uri), numbered by ascending start offset.
// Replacements are applied from the end of the string backward so that
// earlier offsets stay valid. Spans that are inverted, out of range or carry
// no link feature are ignored.
func RewriteFacetLinks(text string, facets []bsky.Facet) string {
	type span struct {
		start, end int
		uri        string
	}

	var spans []span
	for _, facet := range facets {
		start, end := facet.Index.ByteStart, facet.Index.ByteEnd
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		var uri string
		for _, feature := range facet.Features {
			if feature.TypeName() == bsky.LinkFacet && feature.URI != "" {
				uri = feature.URI
				break
			}
		}
		if uri == "" {
			continue
		}
		spans = append(spans, span{start, end, uri})
	}
	if len(spans) == 0 {
		return text
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		text = text[:s.start] + fmt.Sprintf("[link%d](%s)", i+1, s.uri) + text[s.end:]
	}
	return text
}

// FilterByLength keeps contents whose body is at least min bytes long.
func FilterByLength(contents []Content, min int) []Content {
	var out []Content
	for _, c := range contents {
		if len(c.Body) >= min {
			out = append(out, c)
		}
	}
	return out
}

// SortByPublished orders contents by publication time, newest first. The
// sort is stable.
func SortByPublished(contents []Content) {
	sort.SliceStable(contents, func(i, j int) bool {
		return contents[i].Published.After(contents[j].Published)
	})
}
