package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want int64
	}{
		{"nil", nil, 0},
		{"int", 42, 42},
		{"float", 12.9, 12},
		{"plain string", "1234", 1234},
		{"thousands separators", "1,234,567", 1234567},
		{"wan suffix", "3.2万", 32000},
		{"yi suffix", "1.5亿", 150000000},
		{"garbage", "n/a", 0},
		{"empty string", "  ", 0},
		{"bad suffix payload", "abc万", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, parseCount(tc.in))
		})
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   any
		want *time.Time
	}{
		{"nil", nil, nil},
		{"zero timestamp", 0, nil},
		{"unix seconds", int64(1700000000), ptr(time.Unix(1700000000, 0).UTC())},
		{"minutes ago", "5分钟前", ptr(now.Add(-5 * time.Minute))},
		{"hours ago", "3小时前", ptr(now.Add(-3 * time.Hour))},
		{"days ago", "2天前", ptr(now.Add(-48 * time.Hour))},
		{"just now", "刚刚", ptr(now)},
		{"yesterday", "昨天", ptr(now.Add(-24 * time.Hour))},
		{"date only", "2026-08-01", ptr(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))},
		{"datetime", "2026-08-01 10:30:00", ptr(time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC))},
		{"unparseable", "next tuesday", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := parseTime(tc.in, now)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.True(t, tc.want.Equal(*got), "want %v got %v", tc.want, got)
		})
	}
}

func TestExtractInitialState(t *testing.T) {
	t.Parallel()

	page := `<html><script>window.__INITIAL_STATE__={"a":{"b":1},"c":"{}"};(function(){})();</script></html>`
	state := extractInitialState(page)
	require.NotNil(t, state)
	require.Contains(t, state, "a")

	require.Nil(t, extractInitialState("<html>no marker</html>"))
	require.Nil(t, extractInitialState("window.__INITIAL_STATE__={unbalanced"))
}

func TestExtractNextData(t *testing.T) {
	t.Parallel()

	page := `<script id="__NEXT_DATA__" type="application/json">{"props":{"x":1}}</script>`
	data := extractNextData(page)
	require.NotNil(t, data)
	require.Contains(t, data, "props")

	require.Nil(t, extractNextData("<script>nope</script>"))
}

func TestCollectVideoItems(t *testing.T) {
	t.Parallel()

	blob := map[string]any{
		"result": []any{
			map[string]any{"bvid": "BV1", "title": "first"},
			map[string]any{"bvid": "BV2"}, // no title or name, skipped
			map[string]any{"nested": map[string]any{"bvid": "BV3", "name": "third"}},
		},
	}
	items := collectVideoItems(blob)
	require.Len(t, items, 2)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hot keyword", stripHTML(`<em class="keyword">hot</em> keyword`))
	require.Equal(t, "", stripHTML(""))
}

func ptr(t time.Time) *time.Time {
	return &t
}
