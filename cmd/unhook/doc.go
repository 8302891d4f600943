// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Unhook repackages your feeds into e-books: it fetches Bluesky posts, Gmail
newsletters and Twitter timelines and binds them into EPUB files for offline
reading.

# Usage

	$ unhook [flags...] <command>

Available commands:

  - fetch: fetch recent posts from your Bluesky timeline and save them as
    JSON.
  - epub: fetch recent posts and export them as an EPUB file.
  - gmail: fetch emails from Gmail by label and export them as an EPUB file.
  - twitter: fetch Twitter posts via Nitter RSS mirrors and export them as an
    EPUB file.

# Environment Variables

The unhook program relies on the following environment variables:

  - BLUESKY_HANDLE: Bluesky handle used for authentication.
  - BLUESKY_APP_PASSWORD: Bluesky app password. Regular account passwords
    don't work.
  - GMAIL_ADDRESS: Gmail address, required by the gmail command.
  - GMAIL_APP_PASSWORD: Gmail app password with IMAP access, required by the
    gmail command.
  - GEMINI_API_KEY: Gemini API key. When set together with the -summary flag,
    the epub command prepends a digest chapter generated by Gemini.
  - NITTER_INSTANCE: a single Nitter instance URL to use instead of the
    built-in list.
  - NITTER_INSTANCES: a comma-separated list of Nitter instances to try in
    order.

# Filtering Rules

The epub command optionally loads a Starlark file (-rules flag) that defines
keep and/or block functions. Each function receives a post struct with title,
author, body, reposted_by and published fields and returns a boolean: keep
returning False drops the post, block returning True drops the post. Rule
errors and non-boolean returns are logged and the post is kept.

For example:

	def block(post):
	    return "crypto" in post.body.lower()
*/
package main

import (
	_ "embed"

	"go.astrophena.name/unhook/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
