// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gmail fetches newsletters from Gmail over IMAP and prepares them
// for EPUB rendering.
package gmail

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.astrophena.name/unhook/internal/logger"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

const imapAddr = "imap.gmail.com:993"

// ErrNoCredentials is returned when the Gmail address or app password is
// missing.
var ErrNoCredentials = errors.New("gmail: GMAIL_ADDRESS and GMAIL_APP_PASSWORD must be set")

// Config holds Gmail IMAP connection settings.
type Config struct {
	// Address is the Gmail address to log in with.
	Address string
	// AppPassword is an app password; regular account passwords don't work
	// with IMAP.
	AppPassword string
	// Label is the Gmail label to fetch messages from.
	Label string
	// Addr overrides the IMAP server address and connects without TLS.
	// Used in tests.
	Addr string
	// Logf is used for logging. If nil, logs are discarded.
	Logf logger.Logf
}

func (c Config) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
		return
	}
	logger.Discard(format, args...)
}

// RawEmail is a fetched message before MIME parsing.
type RawEmail struct {
	UID  uint32
	Body []byte
}

// FetchEmails connects to Gmail, selects the configured label read-only and
// returns raw messages received in the last sinceDays days. Individual
// message fetch failures are logged and skipped.
func FetchEmails(cfg Config, sinceDays int) ([]RawEmail, error) {
	if cfg.Address == "" || cfg.AppPassword == "" {
		return nil, ErrNoCredentials
	}

	var (
		c   *imapclient.Client
		err error
	)
	if cfg.Addr != "" {
		c, err = imapclient.Dial(cfg.Addr)
	} else {
		c, err = imapclient.DialTLS(imapAddr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("gmail: connecting: %w", err)
	}
	defer c.Logout()

	if err := c.Login(cfg.Address, cfg.AppPassword); err != nil {
		return nil, fmt.Errorf("gmail: login failed: %w", err)
	}
	cfg.logf("Connected to Gmail IMAP as %s.", cfg.Address)

	return fetchFromLabel(c, cfg, sinceDays)
}

func fetchFromLabel(c *imapclient.Client, cfg Config, sinceDays int) ([]RawEmail, error) {
	if _, err := c.Select(cfg.Label, true); err != nil {
		cfg.logf("Could not select label %s: %v", cfg.Label, err)
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().UTC().AddDate(0, 0, -sinceDays)

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("gmail: search failed: %w", err)
	}
	if len(ids) == 0 {
		cfg.logf("No emails found in label %s since %s.", cfg.Label, criteria.Since.Format("02-Jan-2006"))
		return nil, nil
	}
	cfg.logf("Found %d emails in label %s.", len(ids), cfg.Label)

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var emails []RawEmail
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			cfg.logf("Failed to fetch email %d: empty body.", msg.SeqNum)
			continue
		}
		body, err := io.ReadAll(r)
		if err != nil {
			cfg.logf("Failed to fetch email %d: %v", msg.SeqNum, err)
			continue
		}
		emails = append(emails, RawEmail{UID: msg.Uid, Body: body})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("gmail: fetch failed: %w", err)
	}

	return emails, nil
}
