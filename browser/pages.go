package browser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "0: https://example.com [selected]", "1. about:blank", "2) ..."
	indexedLine = regexp.MustCompile(`^\s*(\d+)\s*[:.)]`)

	// "Page 1: ...", "- pageId: 3", "* page #4", "pageIdx=5"
	labeledLine = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?page\s*(?:id|idx|index)?\s*[:#=]?\s*(\d+)\b`)
)

// ParsePageList extracts page ids, in listing order, from a list-pages tool
// result. It accepts JSON (an array of page objects or ids, or an object
// with a "pages" array) and the line-oriented text listings browser tool
// servers print. Unrecognized lines are skipped and duplicates dropped.
func ParsePageList(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		if ids, ok := parseJSONPages(trimmed); ok {
			return ids
		}
	}

	var ids []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(trimmed, "\n") {
		m := indexedLine.FindStringSubmatch(line)
		if m == nil {
			m = labeledLine.FindStringSubmatch(line)
		}
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}

func parseJSONPages(text string) ([]string, bool) {
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		var wrapped struct {
			Pages []json.RawMessage `json:"pages"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil || wrapped.Pages == nil {
			return nil, false
		}
		list = wrapped.Pages
	}

	ids := make([]string, 0, len(list))
	seen := make(map[string]bool)
	for i, item := range list {
		id, ok := pageID(item)
		if !ok {
			// Objects without an id are addressed by position
			id = strconv.Itoa(i)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, true
}

// pageID reads a bare id or the first id-like field of a page object.
func pageID(raw json.RawMessage) (string, bool) {
	if id, ok := scalarID(raw); ok {
		return id, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	for _, key := range []string{"pageId", "pageIdx", "id", "index"} {
		if v, ok := obj[key]; ok {
			if id, ok := scalarID(v); ok {
				return id, true
			}
		}
	}
	return "", false
}

func scalarID(raw json.RawMessage) (string, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, true
	}
	return "", false
}

// idArg converts a page id back to the argument type the tool expects:
// numbers for numeric ids, strings otherwise.
func idArg(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}

func describe(ids []string) string {
	return fmt.Sprintf("[%s]", strings.Join(ids, ", "))
}
