package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uplens/uplens/internal/core"
)

func searchResponse(bvids ...string) map[string]any {
	items := make([]any, 0, len(bvids))
	for _, bvid := range bvids {
		items = append(items, map[string]any{
			"bvid":    bvid,
			"title":   "<em>keyword</em> " + bvid,
			"mid":     12345,
			"author":  "some up",
			"pubdate": time.Now().UTC().Unix(),
			"pic":     "//i0.example.com/cover.jpg",
			"play":    "3.2万",
			"like":    100,
			"review":  "1,234",
		})
	}
	return map[string]any{
		"code": 0,
		"data": map[string]any{"result": items},
	}
}

func newTestClient(t *testing.T, handler http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		RateLimitPerSec: 1000, // keep pacing negligible in tests
		RetryTimes:      retries,
		Timeout:         2 * time.Second,
		APIBase:         srv.URL,
		SearchBase:      srv.URL,
		VideoBase:       srv.URL,
	}, nil)
}

func TestClient_SearchParsesStructuredResults(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x/web-interface/search/type" || r.URL.Query().Get("page") != "1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"result": []any{}}})
			return
		}
		require.Equal(t, "video", r.URL.Query().Get("search_type"))
		_ = json.NewEncoder(w).Encode(searchResponse("BV1A", "BV1B"))
	}), 0)

	got, err := client.Search(context.Background(), "keyword", core.TaskScope{
		DaysLimit:  30,
		FetchLimit: 50,
		SearchSort: "relevance",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "BV1A", got[0].BVID)
	require.Equal(t, "keyword BV1A", got[0].Title)
	require.Equal(t, "12345", got[0].UpID)
	require.Equal(t, int64(32000), got[0].Stats.Views)
	require.Equal(t, int64(1234), got[0].Stats.Reply)
	require.Equal(t, "https://i0.example.com/cover.jpg", got[0].CoverURL)
}

func TestClient_SearchDropsStaleResults(t *testing.T) {
	t.Parallel()

	stale := time.Now().UTC().AddDate(0, 0, -45).Unix()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"result": []any{}}})
			return
		}
		resp := searchResponse("BVfresh")
		items := resp["data"].(map[string]any)["result"].([]any)
		items = append(items, map[string]any{"bvid": "BVstale", "title": "old", "pubdate": stale})
		resp["data"].(map[string]any)["result"] = items
		_ = json.NewEncoder(w).Encode(resp)
	}), 0)

	got, err := client.Search(context.Background(), "keyword", core.TaskScope{
		DaysLimit:  30,
		FetchLimit: 50,
		SearchSort: "relevance",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "BVfresh", got[0].BVID)
}

func TestClient_SearchFallsBackToEmbeddedBlob(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/x/web-interface/search/type":
			// Structured endpoint degraded.
			_ = json.NewEncoder(w).Encode(map[string]any{"code": -412})
		case "/video":
			if r.URL.Query().Get("page") != "1" {
				fmt.Fprint(w, "<html></html>")
				return
			}
			fmt.Fprintf(w,
				`<html><script>window.__INITIAL_STATE__={"result":[{"bvid":"BVhtml","title":"from page","play":"8,000","pubdate":%d}]};</script></html>`,
				time.Now().UTC().Unix(),
			)
		default:
			http.NotFound(w, r)
		}
	}), 0)

	got, err := client.Search(context.Background(), "keyword", core.TaskScope{
		DaysLimit:  30,
		FetchLimit: 20,
		SearchSort: "new",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "BVhtml", got[0].BVID)
	require.Equal(t, int64(8000), got[0].Stats.Views)
}

func TestClient_RequestRetriesThenDegrades(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close() // force a transport error
	}))
	t.Cleanup(srv.Close)

	client := New(Config{
		RateLimitPerSec: 1000,
		RetryTimes:      1,
		Timeout:         time.Second,
		APIBase:         srv.URL,
		SearchBase:      srv.URL,
		VideoBase:       srv.URL,
	}, nil)

	detail, err := client.Detail(context.Background(), "BVgone")
	require.NoError(t, err)
	require.True(t, detail.Empty())
	// Detail tries the API endpoint then the page fallback, each attempted twice.
	require.Equal(t, int32(4), calls.Load())
}

func TestClient_PaceEnforcesMinimumInterval(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		stamps = append(stamps, time.Now())
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0})
	}), 0)
	client.minInterval = 50 * time.Millisecond

	for i := 0; i < 3; i++ {
		_, err := client.CreatorInfo(context.Background(), "777")
		require.NoError(t, err)
	}
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 40*time.Millisecond)
	}
}

func TestClient_DetailFallsBackToPage(t *testing.T) {
	t.Parallel()

	pub := time.Now().UTC().Add(-2 * time.Hour).Unix()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/x/web-interface/view":
			_ = json.NewEncoder(w).Encode(map[string]any{"code": -404})
		case "/video/BVpage":
			fmt.Fprintf(w,
				`<html><script>window.__INITIAL_STATE__={"videoData":{"bvid":"BVpage","title":"page title","cid":999,"pubdate":%d,"owner":{"mid":42,"name":"creator"},"stat":{"view":5000,"favorite":80,"coin":12,"reply":7}}};</script></html>`,
				pub,
			)
		default:
			http.NotFound(w, r)
		}
	}), 0)

	detail, err := client.Detail(context.Background(), "BVpage")
	require.NoError(t, err)
	require.Equal(t, "BVpage", detail.BVID)
	require.Equal(t, "page title", detail.Title)
	require.Equal(t, "42", detail.UpID)
	require.Equal(t, int64(999), detail.CID)
	require.Equal(t, int64(5000), detail.Stats.Views)
}

func TestClient_SubtitleJoinsTrackBody(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"bvid": "BVsub", "title": "t", "cid": 321},
		})
	})
	mux.HandleFunc("/x/player/v2", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"subtitle": map[string]any{
					"subtitles": []any{map[string]any{"url": srvURL + "/track.json"}},
				},
			},
		})
	})
	mux.HandleFunc("/track.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"body": []any{
				map[string]any{"content": "line one"},
				map[string]any{"content": "line two"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	client := New(Config{
		RateLimitPerSec: 1000,
		RetryTimes:      0,
		Timeout:         time.Second,
		APIBase:         srv.URL,
		SearchBase:      srv.URL,
		VideoBase:       srv.URL,
	}, nil)

	text, err := client.Subtitle(context.Background(), "BVsub")
	require.NoError(t, err)
	require.Equal(t, "line one\nline two", text)
}

func TestClient_ReconfigureAdjustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{
		RateLimitPerSec: 1000,
		RetryTimes:      0,
		Timeout:         time.Second,
		APIBase:         srv.URL,
		SearchBase:      srv.URL,
		VideoBase:       srv.URL,
	}, nil)

	_, err := client.CreatorInfo(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	client.Reconfigure(core.SystemSetting{RateLimitPerSec: 1000, RetryTimes: 2, TimeoutSeconds: 1})

	_, err = client.CreatorInfo(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}
