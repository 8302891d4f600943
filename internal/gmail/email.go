// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gmail

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"go.astrophena.name/unhook/internal/epub"
	"go.astrophena.name/unhook/internal/logger"

	_ "github.com/emersion/go-message/charset" // register charsets for decoding
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

// Email is a parsed message ready for EPUB rendering.
type Email struct {
	Title             string
	HTMLBody          string
	Published         time.Time
	InlineImages      map[string][]byte // content ID -> image bytes
	ExternalImageURLs []string
}

// ParseEmail parses a raw RFC 822 message into an [Email]. It returns nil
// with no error when the message has no usable body.
func ParseEmail(raw RawEmail) (*Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("gmail: parsing email %d: %w", raw.UID, err)
	}

	subject, _ := mr.Header.Subject()
	date, err := mr.Header.Date()
	if err != nil || date.IsZero() {
		date = time.Now().UTC()
	}

	var (
		htmlBody, textBody string
		inlineImages       = make(map[string][]byte)
	)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gmail: reading email %d: %w", raw.UID, err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			// Attachments aren't rendered.
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			continue
		}
		switch {
		case ct == "text/html" && htmlBody == "":
			b, err := io.ReadAll(p.Body)
			if err == nil {
				htmlBody = string(b)
			}
		case ct == "text/plain" && textBody == "":
			b, err := io.ReadAll(p.Body)
			if err == nil {
				textBody = string(b)
			}
		case strings.HasPrefix(ct, "image/"):
			cid := strings.Trim(h.Get("Content-Id"), "<>")
			if cid == "" {
				continue
			}
			if b, err := io.ReadAll(p.Body); err == nil {
				inlineImages[cid] = b
			}
		}
	}

	if htmlBody == "" {
		if textBody == "" {
			return nil, nil
		}
		htmlBody = "<pre>" + html.EscapeString(textBody) + "</pre>"
	}

	title := strings.TrimSpace(subject)
	if title == "" {
		title = "Untitled Email"
	}

	return &Email{
		Title:             title,
		HTMLBody:          htmlBody,
		Published:         date,
		InlineImages:      inlineImages,
		ExternalImageURLs: extractExternalImageURLs(htmlBody),
	}, nil
}

var imgSrcRe = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)

// extractExternalImageURLs returns http(s) image URLs referenced by the HTML
// body. cid: and data: sources are not external.
func extractExternalImageURLs(html string) []string {
	var urls []string
	for _, m := range imgSrcRe.FindAllStringSubmatch(html, -1) {
		src := m[1]
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			urls = append(urls, src)
		}
	}
	return urls
}

// cleanRule is a single boilerplate-stripping step.
type cleanRule struct {
	re   *regexp.Regexp
	repl string
}

// cleanRules strips newsletter chrome before sanitation: styles, scripts,
// comments, Substack "Read in app" headers and unsubscribe footers. The
// rules apply in order.
var cleanRules = []cleanRule{
	{regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`), ""},
	{regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`), ""},
	{regexp.MustCompile(`(?s)<!--.*?-->`), ""},
	{regexp.MustCompile(`(?is)<a[^>]*>\s*Read in app\s*</a>`), ""},
	{regexp.MustCompile(`(?is)<a[^>]*>\s*Unsubscribe\s*</a>`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// CleanHTML strips boilerplate from newsletter HTML by applying each
// cleaning rule in order.
func CleanHTML(html string) string {
	for _, rule := range cleanRules {
		html = rule.re.ReplaceAllString(html, rule.repl)
	}
	return html
}

var cidRe = regexp.MustCompile(`(?i)src=["']cid:([^"']+)["']`)

// ReplaceCIDReferences rewrites cid: image references to EPUB-internal
// filenames. References without a mapping are left as is.
func ReplaceCIDReferences(html string, cidToFilename map[string]string) string {
	return cidRe.ReplaceAllStringFunc(html, func(m string) string {
		cid := cidRe.FindStringSubmatch(m)[1]
		filename, ok := cidToFilename[cid]
		if !ok {
			return m
		}
		return fmt.Sprintf("src=%q", filename)
	})
}

// ReplaceExternalImageURLs rewrites external image URLs to EPUB-internal
// filenames.
func ReplaceExternalImageURLs(html string, urlToFilename map[string]string) string {
	for url, filename := range urlToFilename {
		html = strings.ReplaceAll(html, url, filename)
	}
	return html
}

// emailPolicy is wider than the post policy: newsletters use tables and
// styled spans.
var emailPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowRelativeURLs(true)
	p.AllowElements(
		"a", "abbr", "acronym", "b", "blockquote", "br", "code", "div",
		"em", "h1", "h2", "h3", "h4", "h5", "h6", "hr", "i", "img", "li",
		"ol", "p", "pre", "span", "strong", "table", "tbody", "td", "th",
		"thead", "tr", "u", "ul",
	)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowAttrs("style").OnElements("span", "div", "p")
	return p
}()

// SanitizeHTML cleans boilerplate and sanitizes newsletter HTML for EPUB
// embedding.
func SanitizeHTML(html string) string {
	return emailPolicy.Sanitize(CleanHTML(html))
}

// Render converts an email into an EPUB chapter. Inline and downloaded
// external images are embedded and their references rewritten; imageSeq
// keeps image filenames unique across chapters.
func Render(e *Email, externalImages map[string][]byte, imageSeq *int, logf logger.Logf) epub.Chapter {
	body := e.HTMLBody

	cidToFilename := make(map[string]string)
	var images []epub.Image
	for cid, data := range e.InlineImages {
		*imageSeq++
		mediaType := mediaTypeFor(cid)
		name := fmt.Sprintf("inline_%d%s", *imageSeq, extFor(mediaType))
		images = append(images, epub.Image{Name: name, MediaType: mediaType, Data: epub.CompressImage(data)})
		cidToFilename[cid] = "../images/" + name
	}

	urlToFilename := make(map[string]string)
	for _, url := range e.ExternalImageURLs {
		data, ok := externalImages[url]
		if !ok {
			logf("Missing bytes for image %s, skipping.", url)
			continue
		}
		*imageSeq++
		mediaType := mediaTypeFor(url)
		name := fmt.Sprintf("ext_%d%s", *imageSeq, extFor(mediaType))
		images = append(images, epub.Image{Name: name, MediaType: mediaType, Data: data})
		urlToFilename[url] = "../images/" + name
	}

	body = ReplaceCIDReferences(body, cidToFilename)
	body = ReplaceExternalImageURLs(body, urlToFilename)

	title := e.Title
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}

	return epub.Chapter{
		Title:      title,
		Published:  e.Published,
		HTML:       fmt.Sprintf("<h1>%s</h1>", html.EscapeString(title)) + SanitizeHTML(body),
		Images:     images,
		InlineRefs: true,
	}
}

func mediaTypeFor(urlOrCID string) string {
	if mt := mime.TypeByExtension(path.Ext(urlOrCID)); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return "image/jpeg"
}

func extFor(mediaType string) string {
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
