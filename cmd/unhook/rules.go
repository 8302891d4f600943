// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"fmt"
	"time"

	"go.astrophena.name/unhook/internal/feed"
	"go.astrophena.name/unhook/internal/logger"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// rules filter exported posts. A Starlark rules file defines an optional
// keep(post) and/or block(post) function: a post is dropped when keep
// returns False or block returns True. Rule errors and non-boolean returns
// are logged and treated as no opinion.
type rules struct {
	keep, block *starlark.Function
}

func loadRules(path string) (*rules, error) {
	thread := &starlark.Thread{Name: "rules"}
	globals, err := starlark.ExecFile(thread, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("loading rules from %s: %w", path, err)
	}

	var r rules
	r.keep, _ = globals["keep"].(*starlark.Function)
	r.block, _ = globals["block"].(*starlark.Function)
	if r.keep == nil && r.block == nil {
		return nil, fmt.Errorf("rules file %s defines neither keep nor block", path)
	}
	return &r, nil
}

func (r *rules) apply(contents []feed.Content, logf logger.Logf) []feed.Content {
	if r == nil {
		return contents
	}

	var kept []feed.Content
	for _, c := range contents {
		if r.keep != nil {
			if keep, ok := applyRule(r.keep, c, logf); ok && !keep {
				logf("Dropped by keep rule: %q", c.Title)
				continue
			}
		}
		if r.block != nil {
			if block, ok := applyRule(r.block, c, logf); ok && block {
				logf("Dropped by block rule: %q", c.Title)
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept
}

// applyRule calls a rule with the post struct. The second return value is
// false when the rule errored or returned a non-boolean, which means the
// rule has no opinion about the post.
func applyRule(rule *starlark.Function, c feed.Content, logf logger.Logf) (verdict, ok bool) {
	val, err := starlark.Call(
		&starlark.Thread{
			Name:  "rules",
			Print: func(_ *starlark.Thread, msg string) { logf("%s", msg) },
		},
		rule,
		starlark.Tuple{starlarkstruct.FromStringDict(
			starlarkstruct.Default,
			starlark.StringDict{
				"title":       starlark.String(c.Title),
				"author":      starlark.String(c.Author),
				"body":        starlark.String(c.Body),
				"reposted_by": starlark.String(c.RepostedBy),
				"published":   starlark.String(c.Published.Format(time.RFC3339)),
			},
		)},
		nil,
	)
	if err != nil {
		logf("Applying rule for %q: %v", c.Title, err)
		return false, false
	}

	ret, isBool := val.(starlark.Bool)
	if !isBool {
		logf("Rule returned non-boolean value for %q.", c.Title)
		return false, false
	}
	return bool(ret), true
}
