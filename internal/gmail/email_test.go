// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gmail

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/unhook/internal/logger"
	"go.astrophena.name/unhook/internal/testutil"
)

func rawEmail(t *testing.T, lines ...string) RawEmail {
	t.Helper()
	return RawEmail{UID: 1, Body: []byte(strings.Join(lines, "\r\n"))}
}

func TestParseEmailMultipart(t *testing.T) {
	t.Parallel()

	imageData := []byte{0xff, 0xd8, 0xff, 0xe0} // JPEG magic
	raw := rawEmail(t,
		"Subject: Weekly Digest",
		"From: Newsletter <news@example.com>",
		"Date: Sun, 15 Jun 2025 12:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/related; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p>Hello <b>world</b></p><img src="cid:img1@example.com"/>`,
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello world",
		"--BOUNDARY",
		"Content-Type: image/jpeg",
		"Content-Id: <img1@example.com>",
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString(imageData),
		"--BOUNDARY",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="doc.pdf"`,
		"",
		"not rendered",
		"--BOUNDARY--",
	)

	e, err := ParseEmail(raw)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("got nil email")
	}
	testutil.AssertEqual(t, e.Title, "Weekly Digest")
	testutil.AssertContains(t, e.HTMLBody, "Hello <b>world</b>")
	testutil.AssertEqual(t, e.Published, time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC))
	testutil.AssertEqual(t, e.InlineImages, map[string][]byte{"img1@example.com": imageData})
	if len(e.ExternalImageURLs) != 0 {
		t.Errorf("got external URLs %v, want none", e.ExternalImageURLs)
	}
}

func TestParseEmailPlainTextFallback(t *testing.T) {
	t.Parallel()

	raw := rawEmail(t,
		"Subject: Plain",
		"From: someone@example.com",
		"Date: Sun, 15 Jun 2025 12:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Text with <angle brackets>",
	)

	e, err := ParseEmail(raw)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, e.HTMLBody, "<pre>")
	testutil.AssertContains(t, e.HTMLBody, "&lt;angle brackets&gt;")
}

func TestParseEmailWithoutSubject(t *testing.T) {
	t.Parallel()

	raw := rawEmail(t,
		"From: someone@example.com",
		"Date: Sun, 15 Jun 2025 12:00:00 +0000",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Body</p>",
	)

	e, err := ParseEmail(raw)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, e.Title, "Untitled Email")
}

func TestParseEmailExternalImages(t *testing.T) {
	t.Parallel()

	raw := rawEmail(t,
		"Subject: Images",
		"Date: Sun, 15 Jun 2025 12:00:00 +0000",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<img src="https://example.com/a.jpg"/>`,
		`<img src='http://example.com/b.png'/>`,
		`<img src="cid:inline@example.com"/>`,
		`<img src="data:image/png;base64,abc"/>`,
	)

	e, err := ParseEmail(raw)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, e.ExternalImageURLs, []string{
		"https://example.com/a.jpg",
		"http://example.com/b.png",
	})
}

func TestCleanHTML(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in, want string
	}{
		"style block": {
			in:   "<style>body { color: red }</style><p>Text</p>",
			want: "<p>Text</p>",
		},
		"script block": {
			in:   `<script type="text/javascript">alert(1)</script><p>Text</p>`,
			want: "<p>Text</p>",
		},
		"html comment": {
			in:   "<!-- tracking pixel --><p>Text</p>",
			want: "<p>Text</p>",
		},
		"read in app link": {
			in:   `<a href="https://substack.com/app">Read in app</a><p>Text</p>`,
			want: "<p>Text</p>",
		},
		"unsubscribe link": {
			in:   `<p>Text</p><a href="https://example.com/unsub">Unsubscribe</a>`,
			want: "<p>Text</p>",
		},
		"blank run collapse": {
			in:   "<p>One</p>\n\n\n\n\n<p>Two</p>",
			want: "<p>One</p>\n\n<p>Two</p>",
		},
		"content untouched": {
			in:   "<p>Read in app stores near you</p>",
			want: "<p>Read in app stores near you</p>",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, CleanHTML(tc.in), tc.want)
		})
	}
}

func TestReplaceCIDReferences(t *testing.T) {
	t.Parallel()

	html := `<img src="cid:known@example.com"/> <img src="cid:unknown@example.com"/>`
	got := ReplaceCIDReferences(html, map[string]string{
		"known@example.com": "../images/inline_1.jpg",
	})

	testutil.AssertContains(t, got, `src="../images/inline_1.jpg"`)
	// Unmatched references stay as is.
	testutil.AssertContains(t, got, `src="cid:unknown@example.com"`)
}

func TestReplaceExternalImageURLs(t *testing.T) {
	t.Parallel()

	html := `<img src="https://example.com/a.jpg"/>`
	got := ReplaceExternalImageURLs(html, map[string]string{
		"https://example.com/a.jpg": "../images/ext_1.jpg",
	})
	testutil.AssertEqual(t, got, `<img src="../images/ext_1.jpg"/>`)
}

func TestSanitizeHTML(t *testing.T) {
	t.Parallel()

	in := `<style>p{}</style><table><tr><td colspan="2">Cell</td></tr></table>` +
		`<a href="https://substack.com">Read in app</a><p>Content</p><iframe src="https://evil"></iframe>`
	got := SanitizeHTML(in)

	testutil.AssertContains(t, got, `<td colspan="2">Cell</td>`)
	testutil.AssertContains(t, got, "<p>Content</p>")
	testutil.AssertNotContains(t, got, "<style>")
	testutil.AssertNotContains(t, got, "Read in app")
	testutil.AssertNotContains(t, got, "<iframe")
}

func TestRender(t *testing.T) {
	t.Parallel()

	e := &Email{
		Title:     "Weekly Digest",
		HTMLBody:  `<p>Hello</p><img src="cid:img1@example.com"/><img src="https://example.com/photo.jpg"/>`,
		Published: time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC),
		InlineImages: map[string][]byte{
			"img1@example.com": []byte("inline bytes"),
		},
		ExternalImageURLs: []string{
			"https://example.com/photo.jpg",
			"https://example.com/missing.jpg",
		},
	}
	external := map[string][]byte{
		"https://example.com/photo.jpg": []byte("external bytes"),
	}

	var seq int
	ch := Render(e, external, &seq, logger.Discard)

	testutil.AssertEqual(t, ch.Title, "Weekly Digest")
	testutil.AssertEqual(t, ch.InlineRefs, true)
	if len(ch.Images) != 2 {
		t.Fatalf("got %d images, want 2", len(ch.Images))
	}
	testutil.AssertContains(t, ch.HTML, "<h1>Weekly Digest</h1>")
	testutil.AssertContains(t, ch.HTML, "../images/inline_1.jpg")
	testutil.AssertContains(t, ch.HTML, "../images/ext_2.jpg")
	testutil.AssertNotContains(t, ch.HTML, "cid:")
	testutil.AssertNotContains(t, ch.HTML, "https://example.com/photo.jpg")
	testutil.AssertEqual(t, seq, 2)
}
