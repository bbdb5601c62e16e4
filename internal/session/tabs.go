package session

import (
	"strconv"
	"strings"
	"time"
)

// Tab is one open browser tab as the governor sees it. Index is the
// browser's current numbering and is NOT stable: closing any tab
// renumbers the ones after it, so indices must be re-resolved from a
// fresh listing before every close, never cached.
type Tab struct {
	Index  int
	Active bool
	Title  string
	URL    string

	// LastActivity is maintained by the governor, not the browser: the
	// last time this tab was seen active (or first seen at all).
	LastActivity time.Time
}

// ParseTabs extracts tab records from a tab-listing tool result. Each
// well-formed line looks like:
//
//	- 0: (current) Inbox (https://mail.example.com/inbox)
//	- 1: Example Domain (https://example.com)
//
// Lines that don't match are skipped; the listing may carry headers
// or blank lines around the entries.
func ParseTabs(text string) []Tab {
	var tabs []Tab
	for _, line := range strings.Split(text, "\n") {
		if tab, ok := parseTabLine(line); ok {
			tabs = append(tabs, tab)
		}
	}
	return tabs
}

// parseTabLine parses a single "- <index>: [(current) ]<title> (<url>)"
// line. The URL is the last parenthesized group on the line, so titles
// containing parentheses survive.
func parseTabLine(line string) (Tab, bool) {
	s := strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(s, "- ")
	if !ok {
		return Tab{}, false
	}

	idxStr, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return Tab{}, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
	if err != nil || idx < 0 {
		return Tab{}, false
	}

	rest = strings.TrimSpace(rest)
	active := false
	if after, found := strings.CutPrefix(rest, "(current)"); found {
		active = true
		rest = strings.TrimSpace(after)
	}

	if !strings.HasSuffix(rest, ")") {
		return Tab{}, false
	}
	open := strings.LastIndex(rest, "(")
	if open < 0 {
		return Tab{}, false
	}

	return Tab{
		Index:  idx,
		Active: active,
		Title:  strings.TrimSpace(rest[:open]),
		URL:    rest[open+1 : len(rest)-1],
	}, true
}
