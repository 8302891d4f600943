// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package epub renders content into EPUB files: Markdown conversion, HTML
// sanitizing, image download and compression, and container assembly.
package epub

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.astrophena.name/unhook/internal/feed"
	"go.astrophena.name/unhook/internal/logger"
	"go.astrophena.name/unhook/internal/request"

	goepub "github.com/go-shiori/go-epub"
	"github.com/microcosm-cc/bluemonday"
	"github.com/vincent-petithory/dataurl"
	"github.com/yuin/goldmark"
)

// Chapter is a single EPUB chapter with its embedded images.
type Chapter struct {
	Title     string
	Author    string
	Published time.Time
	HTML      string // sanitized chapter body
	Images    []Image

	// InlineRefs marks chapters whose HTML already references the images by
	// their internal paths, so [Build] should not append image tags.
	InlineRefs bool
}

// Image is a binary resource embedded into a chapter.
type Image struct {
	Name      string // internal filename, e.g. "post_1_2.jpg"
	MediaType string
	Data      []byte
}

// postPolicy allows the tags Markdown rendering produces for posts.
var postPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowElements(
		"p", "img", "h1", "h2", "h3", "pre", "code",
		"a", "em", "strong", "ul", "ol", "li", "blockquote",
	)
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("href", "title", "rel").OnElements("a")
	return p
}()

var leadingHashRe = regexp.MustCompile(`(?m)^#(\S)`)

// EscapeHashtags escapes # at the start of a line when it is immediately
// followed by a non-space character, so that hashtags don't render as
// Markdown headings. "# heading" and mid-line "#tag" are left alone.
func EscapeHashtags(text string) string {
	return leadingHashRe.ReplaceAllString(text, `\#$1`)
}

// RenderPost converts a post into a chapter: hashtag-escaped Markdown body
// converted to sanitized HTML, plus the subset of images that were actually
// downloaded. idx distinguishes image filenames between chapters. Missing
// image bytes are logged and skipped.
func RenderPost(c feed.Content, idx int, images map[string][]byte, logf logger.Logf) (Chapter, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(EscapeHashtags(c.Body)), &buf); err != nil {
		return Chapter{}, fmt.Errorf("epub: rendering %q: %w", c.Title, err)
	}

	ch := Chapter{
		Title:     c.Title,
		Author:    c.Author,
		Published: c.Published,
		HTML:      headerHTML(c) + postPolicy.Sanitize(buf.String()),
	}

	for i, url := range c.ImageURLs {
		data, ok := images[url]
		if !ok {
			logf("Missing bytes for image %s, skipping.", url)
			continue
		}
		mediaType := http.DetectContentType(data)
		ch.Images = append(ch.Images, Image{
			Name:      fmt.Sprintf("post_%d_%d%s", idx, i+1, extensionFor(mediaType)),
			MediaType: mediaType,
			Data:      data,
		})
	}

	return ch, nil
}

func headerHTML(c feed.Content) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h1>%s</h1>", html.EscapeString(c.Title))
	fmt.Fprintf(&sb, "<p><em>%s - %s</em></p>",
		html.EscapeString(c.Author), c.Published.Format(time.RFC3339))
	if c.RepostedBy != "" {
		fmt.Fprintf(&sb, "<p><em>Reposted by @%s</em></p>", html.EscapeString(c.RepostedBy))
	}
	return sb.String()
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// Build writes chapters into an EPUB file at path.
func Build(title string, chapters []Chapter, path string, logf logger.Logf) error {
	book, err := goepub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("epub: %w", err)
	}
	book.SetIdentifier("unhook-export")
	book.SetLang("en")

	for i, ch := range chapters {
		body := ch.HTML

		for j, img := range ch.Images {
			src := dataurl.New(img.Data, img.MediaType).String()
			internal, err := book.AddImage(src, img.Name)
			if err != nil {
				logf("Failed to embed image %s: %v", img.Name, err)
				continue
			}
			if !ch.InlineRefs {
				body += fmt.Sprintf(`<p><img src=%q alt="Image %d"/></p>`, internal, j+1)
			}
		}

		if _, err := book.AddSection(body, ch.Title, fmt.Sprintf("post_%d.xhtml", i+1), ""); err != nil {
			return fmt.Errorf("epub: adding chapter %q: %w", ch.Title, err)
		}
	}

	if err := book.Write(path); err != nil {
		return fmt.Errorf("epub: writing %s: %w", path, err)
	}
	return nil
}

// DownloadImages fetches urls sequentially, returning a map of URL to
// response bytes. Duplicate URLs are fetched once. Failed downloads are
// logged and omitted from the result.
func DownloadImages(ctx context.Context, urls []string, httpc *http.Client, logf logger.Logf) map[string][]byte {
	results := make(map[string][]byte)
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := results[url]; ok {
			continue
		}
		b, err := request.Make[[]byte](ctx, request.Params{
			Method:     http.MethodGet,
			URL:        url,
			HTTPClient: httpc,
		})
		if err != nil {
			logf("Failed to download image %s: %v", url, err)
			continue
		}
		results[url] = b
	}
	return results
}
