// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	t.Parallel()

	i := Info{
		Version: "v1.2.3",
		Commit:  "abcdef",
		BuiltAt: "2025-06-01T12:00:00Z",
		Go:      "go1.24.0",
		OS:      "linux",
		Arch:    "amd64",
	}

	s := i.String()
	for _, want := range []string{"v1.2.3", "go1.24.0", "linux/amd64", "commit abcdef", "built at 2025-06-01T12:00:00Z"} {
		if !strings.Contains(s, want) {
			t.Errorf("Info.String() = %q, must contain %q", s, want)
		}
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ua := UserAgent()
	if ua == "" {
		t.Fatal("UserAgent() returned an empty string")
	}
	if !strings.Contains(ua, "/") {
		t.Errorf("UserAgent() = %q, want name/version format", ua)
	}
}
