// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gmail

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"go.astrophena.name/unhook/internal/logger"
	"go.astrophena.name/unhook/internal/testutil"

	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// The memory backend ships a single user ("username"/"password") whose INBOX
// holds one message with the current time as its internal date.
func testServer(t *testing.T) string {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return l.Addr().String()
}

func testConfig(addr string) Config {
	return Config{
		Address:     "username",
		AppPassword: "password",
		Label:       "INBOX",
		Addr:        addr,
		Logf:        logger.Discard,
	}
}

func TestFetchEmails(t *testing.T) {
	t.Parallel()

	emails, err := FetchEmails(testConfig(testServer(t)), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 1 {
		t.Fatalf("got %d emails, want 1", len(emails))
	}
	testutil.AssertContains(t, string(emails[0].Body), "Hi there :)")
	if emails[0].UID == 0 {
		t.Fatal("UID is not set")
	}
}

func TestFetchEmailsSinceCutoff(t *testing.T) {
	t.Parallel()

	addr := testServer(t)

	// Append a message with an internal date well past the cutoff.
	c, err := imapclient.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Logout()
	if err := c.Login("username", "password"); err != nil {
		t.Fatal(err)
	}
	old := bytes.NewBufferString("From: old@example.org\r\n" +
		"Subject: Stale newsletter\r\n" +
		"\r\n" +
		"Long past its cutoff.")
	if err := c.Append("INBOX", nil, time.Now().AddDate(0, 0, -30), old); err != nil {
		t.Fatal(err)
	}

	emails, err := FetchEmails(testConfig(addr), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 1 {
		t.Fatalf("got %d emails, want 1", len(emails))
	}
	testutil.AssertNotContains(t, string(emails[0].Body), "Stale newsletter")
}

func TestFetchEmailsUnknownLabel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(testServer(t))
	cfg.Label = "newsletters-kindle"

	emails, err := FetchEmails(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	if emails != nil {
		t.Fatalf("got %d emails, want none", len(emails))
	}
}

func TestFetchEmailsBadCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig(testServer(t))
	cfg.AppPassword = "wrong"

	if _, err := FetchEmails(cfg, 1); err == nil {
		t.Fatal("expected a login error")
	}
}

func TestFetchEmailsNoCredentials(t *testing.T) {
	t.Parallel()

	if _, err := FetchEmails(Config{}, 1); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("got %v, want ErrNoCredentials", err)
	}
}
