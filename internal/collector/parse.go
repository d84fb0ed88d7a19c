package collector

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]+>`)
	nextDataPattern = regexp.MustCompile(`(?s)<script[^>]*id="__NEXT_DATA__"[^>]*>(.*?)</script>`)
	relativePattern = regexp.MustCompile(`^(\d+)(分钟|小时|天)前$`)
)

// stripHTML removes markup from titles; search results ship with <em> keyword
// highlighting baked in.
func stripHTML(text string) string {
	if text == "" {
		return ""
	}
	return tagPattern.ReplaceAllString(text, "")
}

// normalizeURL upgrades protocol-relative URLs.
func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// parseCount reads a numeric stat that may carry a locale magnitude suffix
// (万 = x10^4, 亿 = x10^8) or thousands separators.
func parseCount(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return int64(f)
	case string:
		text := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if text == "" {
			return 0
		}
		if rest, ok := strings.CutSuffix(text, "万"); ok {
			f, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return 0
			}
			return int64(f * 1e4)
		}
		if rest, ok := strings.CutSuffix(text, "亿"); ok {
			f, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return 0
			}
			return int64(f * 1e8)
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0
		}
		return int64(f)
	default:
		return 0
	}
}

// parseTime reads a publish time that may be a unix timestamp, a relative
// phrase ("5分钟前", "刚刚", "昨天") or an absolute date string. Relative
// phrases are anchored to now at parse time.
func parseTime(value any, now time.Time) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return &v
	case int:
		return unixTime(int64(v))
	case int64:
		return unixTime(v)
	case float64:
		return unixTime(int64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		return unixTime(int64(f))
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil
		}
		if m := relativePattern.FindStringSubmatch(text); m != nil {
			amount, _ := strconv.Atoi(m[1])
			var d time.Duration
			switch m[2] {
			case "分钟":
				d = time.Duration(amount) * time.Minute
			case "小时":
				d = time.Duration(amount) * time.Hour
			case "天":
				d = time.Duration(amount) * 24 * time.Hour
			}
			t := now.Add(-d)
			return &t
		}
		switch text {
		case "刚刚", "刚刚发布":
			t := now
			return &t
		case "昨天":
			t := now.Add(-24 * time.Hour)
			return &t
		}
		for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, text); err == nil {
				return &t
			}
		}
		return nil
	default:
		return nil
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// extractNextData pulls the embedded JSON blob out of a __NEXT_DATA__ script tag.
func extractNextData(page string) map[string]any {
	m := nextDataPattern.FindStringSubmatch(page)
	if m == nil {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(html.UnescapeString(m[1])), &data); err != nil {
		return nil
	}
	return data
}

// extractInitialState locates the window.__INITIAL_STATE__ assignment and
// brace-matches a balanced JSON object out of the page.
func extractInitialState(page string) map[string]any {
	idx := strings.Index(page, "window.__INITIAL_STATE__")
	if idx == -1 {
		return nil
	}
	eq := strings.IndexByte(page[idx:], '=')
	if eq == -1 {
		return nil
	}
	start := strings.IndexByte(page[idx+eq:], '{')
	if start == -1 {
		return nil
	}
	start += idx + eq
	depth := 0
	end := -1
	for i := start; i < len(page); i++ {
		switch page[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(page[start:end]), &data); err != nil {
		return nil
	}
	return data
}

// collectVideoItems walks an arbitrary decoded blob and gathers every object
// that looks like a video entry (has a bvid plus a title or name).
func collectVideoItems(node any) []map[string]any {
	var items []map[string]any
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			if _, ok := v["bvid"]; ok {
				_, hasTitle := v["title"]
				_, hasName := v["name"]
				if hasTitle || hasName {
					items = append(items, v)
				}
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return items
}

// findKey depth-first searches a decoded blob for the first value under key.
func findKey(node any, key string) any {
	switch v := node.(type) {
	case map[string]any:
		if found, ok := v[key]; ok {
			return found
		}
		for _, child := range v {
			if found := findKey(child, key); found != nil {
				return found
			}
		}
	case []any:
		for _, child := range v {
			if found := findKey(child, key); found != nil {
				return found
			}
		}
	}
	return nil
}

// firstString returns the first non-empty string among the given keys.
func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstValue returns the first non-nil value among the given keys.
func firstValue(item map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := item[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stringify renders string or numeric IDs as strings.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
