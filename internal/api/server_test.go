package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"silentfeed/internal/dwell"
	"silentfeed/internal/fetcher"
	"silentfeed/internal/model"
	"silentfeed/internal/quality"
	"silentfeed/internal/registry"
	"silentfeed/internal/storage"
	"silentfeed/internal/txn"
)

type mockHTTPClient struct {
	body string
}

func (m *mockHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	srv    *httptest.Server
	reg    *registry.Registry
	visits *dwell.Tracker
	clock  *fakeClock
}

func newTestEnv(t *testing.T, httpBody string) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &fakeClock{t: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)}
	f := fetcher.New(&mockHTTPClient{body: httpBody})
	reg := registry.New(registry.Deps{
		Store:    store,
		Txn:      txn.NewCoordinator(store, txn.RetryConfig{MaxAttempts: 1}, log),
		Fetcher:  f,
		Analyzer: quality.NewAnalyzer(f, 24*time.Hour, clk.now),
		Log:      log,
		Now:      clk.now,
	}, registry.Options{RecommendThreshold: 70, BatchSize: 2})
	visits := dwell.NewTracker(clk.now)

	srv := httptest.NewServer(New(reg, visits, 5, log).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, reg: reg, visits: visits, clock: clk}
}

func loadSampleXML(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read sample xml: %v", err)
	}
	return string(data)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (e *testEnv) expect(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	resp, data := e.do(t, method, path, body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d, body %s", method, path, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
}

func (e *testEnv) addCandidate(t *testing.T, url string) string {
	t.Helper()
	var f feedJSON
	e.expect(t, http.MethodPost, "/api/feeds", map[string]any{"url": url}, http.StatusCreated, &f)
	return f.ID
}

func TestFeedLifecycle(t *testing.T) {
	e := newTestEnv(t, loadSampleXML(t))

	var created feedJSON
	e.expect(t, http.MethodPost, "/api/feeds",
		map[string]any{"url": "https://devops.example.com/rss", "title": "DevOps", "discovered_from": "https://devops.example.com/"},
		http.StatusCreated, &created)
	if diff := cmp.Diff(model.FeedCandidate, created.Status); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}

	var dup feedJSON
	e.expect(t, http.MethodPost, "/api/feeds", map[string]any{"url": "https://devops.example.com/rss/"}, http.StatusCreated, &dup)
	if diff := cmp.Diff(created.ID, dup.ID); diff != "" {
		t.Errorf("duplicate id (-want +got):\n%s", diff)
	}

	path := "/api/feeds/" + created.ID
	var f feedJSON
	e.expect(t, http.MethodPost, path+"/subscribe", nil, http.StatusOK, &f)
	if f.Status != model.FeedSubscribed || !f.IsActive || f.SubscriptionSource != model.SourceManual {
		t.Errorf("unexpected subscribed feed: %+v", f)
	}

	e.expect(t, http.MethodPost, path+"/subscribe", nil, http.StatusConflict, nil)

	e.expect(t, http.MethodPost, path+"/toggle", nil, http.StatusOK, &f)
	if f.IsActive {
		t.Error("expected paused after toggle")
	}

	var sum registry.RefreshSummary
	e.expect(t, http.MethodPost, path+"/refresh", nil, http.StatusOK, &sum)
	if diff := cmp.Diff(registry.RefreshSummary{Inserted: 5, Total: 5}, sum); diff != "" {
		t.Errorf("refresh (-want +got):\n%s", diff)
	}

	var articles []articleJSON
	e.expect(t, http.MethodGet, path+"/articles", nil, http.StatusOK, &articles)
	if diff := cmp.Diff(5, len(articles)); diff != "" {
		t.Errorf("articles (-want +got):\n%s", diff)
	}

	e.expect(t, http.MethodDelete, path, nil, http.StatusConflict, nil)

	e.expect(t, http.MethodPost, path+"/unsubscribe", nil, http.StatusOK, &f)
	if f.Status != model.FeedIgnored || f.UnsubscribedAt == nil {
		t.Errorf("unexpected unsubscribed feed: %+v", f)
	}

	e.expect(t, http.MethodDelete, path, nil, http.StatusNoContent, nil)
	e.expect(t, http.MethodGet, path, nil, http.StatusNotFound, nil)
}

func TestCreateFeedSubscribe(t *testing.T) {
	e := newTestEnv(t, loadSampleXML(t))

	var f feedJSON
	e.expect(t, http.MethodPost, "/api/feeds",
		map[string]any{"url": "https://devops.example.com/rss", "subscribe": true, "source": "discovered"},
		http.StatusCreated, &f)
	if diff := cmp.Diff("DevOps Weekly", f.Title); diff != "" {
		t.Errorf("title (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.SourceDiscovered, f.SubscriptionSource); diff != "" {
		t.Errorf("source (-want +got):\n%s", diff)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t, "not a feed")
	candidate := e.addCandidate(t, "https://a.example.com/rss")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown feed", http.MethodGet, "/api/feeds/missing", nil, http.StatusNotFound},
		{"invalid url", http.MethodPost, "/api/feeds", map[string]any{"url": "ftp://a.example.com"}, http.StatusBadRequest},
		{"validation fails", http.MethodPost, "/api/feeds", map[string]any{"url": "https://b.example.com/rss", "subscribe": true}, http.StatusBadRequest},
		{"unknown source", http.MethodPost, "/api/feeds", map[string]any{"url": "https://b.example.com/rss", "subscribe": true, "source": "magic"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/feeds", map[string]any{"link": "https://b.example.com/rss"}, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/feeds?status=archived", nil, http.StatusBadRequest},
		{"toggle candidate", http.MethodPost, "/api/feeds/" + candidate + "/toggle", nil, http.StatusConflict},
		{"unsubscribe candidate", http.MethodPost, "/api/feeds/" + candidate + "/unsubscribe", nil, http.StatusConflict},
		{"bad limit", http.MethodPost, "/api/candidates/analyze?limit=0", nil, http.StatusBadRequest},
		{"bad force", http.MethodPost, "/api/feeds/" + candidate + "/analyze?force=maybe", nil, http.StatusBadRequest},
		{"unknown visit", http.MethodGet, "/api/visits/nope", nil, http.StatusNotFound},
		{"unknown article", http.MethodPost, "/api/articles/nope/dislike", nil, http.StatusNotFound},
		{"empty recommendations", http.MethodPost, "/api/pool/recommendations", map[string]any{"recommendations": []any{}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := e.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d, body %s", resp.StatusCode, tt.want, data)
			}
			var body map[string]string
			if err := json.Unmarshal(data, &body); err != nil || body["error"] == "" {
				t.Errorf("expected error body, got %s", data)
			}
		})
	}
}

func TestRefreshFailureIs500(t *testing.T) {
	e := newTestEnv(t, "not a feed")
	id := e.addCandidate(t, "https://a.example.com/rss")
	e.expect(t, http.MethodPost, "/api/feeds/"+id+"/subscribe", nil, http.StatusOK, nil)

	resp, data := e.do(t, http.MethodPost, "/api/feeds/"+id+"/refresh", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, body %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "internal server error") {
		t.Errorf("internal details leaked: %s", data)
	}

	var f feedJSON
	e.expect(t, http.MethodGet, "/api/feeds/"+id, nil, http.StatusOK, &f)
	if f.LastError == "" {
		t.Error("expected last error recorded")
	}
}

func TestListFeedsFilter(t *testing.T) {
	e := newTestEnv(t, "")
	a := e.addCandidate(t, "https://a.example.com/rss")
	e.addCandidate(t, "https://b.example.com/rss")
	c := e.addCandidate(t, "https://c.example.com/rss")
	e.expect(t, http.MethodPost, "/api/feeds/"+a+"/subscribe", nil, http.StatusOK, nil)
	e.expect(t, http.MethodPost, "/api/feeds/"+c+"/ignore", nil, http.StatusOK, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?status=candidate", 1},
		{"?status=subscribed,ignored", 2},
		{"?status=subscribed&status=candidate", 2},
	}
	for _, tt := range tests {
		var feeds []feedJSON
		e.expect(t, http.MethodGet, "/api/feeds"+tt.query, nil, http.StatusOK, &feeds)
		if diff := cmp.Diff(tt.want, len(feeds)); diff != "" {
			t.Errorf("GET /api/feeds%s (-want +got):\n%s", tt.query, diff)
		}
	}

	var st statsJSON
	e.expect(t, http.MethodGet, "/api/stats", nil, http.StatusOK, &st)
	if diff := cmp.Diff(statsJSON{Total: 3, Candidate: 1, Subscribed: 1, Ignored: 1}, st); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}

func TestAnalyze(t *testing.T) {
	e := newTestEnv(t, loadSampleXML(t))
	for i := range 7 {
		e.addCandidate(t, fmt.Sprintf("https://c%d.example.com/rss", i))
	}

	var sum registry.AnalyzeSummary
	e.expect(t, http.MethodPost, "/api/candidates/analyze", nil, http.StatusOK, &sum)
	if diff := cmp.Diff(registry.AnalyzeSummary{Total: 7, Analyzed: 5, Success: 5}, sum); diff != "" {
		t.Errorf("default limit (-want +got):\n%s", diff)
	}

	e.expect(t, http.MethodPost, "/api/candidates/analyze?limit=10", nil, http.StatusOK, &sum)
	if diff := cmp.Diff(registry.AnalyzeSummary{Total: 7, Analyzed: 2, Success: 2}, sum); diff != "" {
		t.Errorf("remaining (-want +got):\n%s", diff)
	}

	feeds, err := e.reg.GetFeeds(context.Background(), model.FeedCandidate)
	if err != nil {
		t.Fatalf("get feeds: %v", err)
	}
	var q qualityJSON
	e.expect(t, http.MethodPost, "/api/feeds/"+feeds[0].ID+"/analyze?force=false", nil, http.StatusOK, &q)
	if !q.Reachable || !q.FormatValid {
		t.Errorf("unexpected quality: %+v", q)
	}
	if !q.LastChecked.Equal(e.clock.now()) {
		t.Errorf("last checked %v, want %v", q.LastChecked, e.clock.now())
	}
}

func TestPoolEndpoints(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, loadSampleXML(t))
	var f feedJSON
	e.expect(t, http.MethodPost, "/api/feeds",
		map[string]any{"url": "https://devops.example.com/rss", "subscribe": true}, http.StatusCreated, &f)
	e.expect(t, http.MethodPost, "/api/feeds/"+f.ID+"/refresh", nil, http.StatusOK, nil)

	var pool []articleJSON
	e.expect(t, http.MethodGet, "/api/pool", nil, http.StatusOK, &pool)
	if diff := cmp.Diff(5, len(pool)); diff != "" {
		t.Fatalf("pool size (-want +got):\n%s", diff)
	}
	first, second := pool[0].ID, pool[1].ID

	e.expect(t, http.MethodPost, "/api/pool/recommendations", map[string]any{
		"recommendations": []map[string]any{
			{"article_id": first, "score": 0.9, "analysis": map[string]any{"topic": "sqlite"}},
			{"article_id": second},
		},
	}, http.StatusOK, nil)

	e.expect(t, http.MethodPost, "/api/articles/"+first+"/popup", nil, http.StatusNoContent, nil)
	e.expect(t, http.MethodPost, "/api/articles/"+first+"/popup", nil, http.StatusConflict, nil)
	e.expect(t, http.MethodPut, "/api/articles/"+second+"/star", map[string]any{"starred": true}, http.StatusNoContent, nil)

	var read map[string]int
	e.expect(t, http.MethodPost, "/api/feeds/"+f.ID+"/read", map[string]any{"article_ids": []string{first, second}}, http.StatusOK, &read)
	if diff := cmp.Diff(map[string]int{"recommended_read": 2}, read); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}

	e.expect(t, http.MethodPost, "/api/articles/"+pool[2].ID+"/dislike", nil, http.StatusNoContent, nil)

	got, err := e.reg.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.RecommendedCount != 2 || got.RecommendedReadCount != 2 || got.UnreadCount != 3 {
		t.Errorf("counters = %d/%d/%d, want 2/2/3", got.RecommendedCount, got.RecommendedReadCount, got.UnreadCount)
	}

	var reset map[string]int
	e.expect(t, http.MethodPost, "/api/pool/reset", nil, http.StatusOK, &reset)
	if diff := cmp.Diff(map[string]int{"exited": 2}, reset); diff != "" {
		t.Errorf("reset (-want +got):\n%s", diff)
	}
	e.expect(t, http.MethodGet, "/api/pool", nil, http.StatusOK, &pool)
	if len(pool) != 0 {
		t.Errorf("expected empty pool, got %d", len(pool))
	}
}

func TestOPML(t *testing.T) {
	e := newTestEnv(t, loadSampleXML(t))
	doc := `<?xml version="1.0"?>
<opml version="2.0"><head><title>subs</title></head><body>
<outline text="Tech">
  <outline type="rss" text="A" xmlUrl="https://a.example.com/rss"/>
  <outline type="rss" text="B" xmlUrl="https://b.example.com/rss"/>
</outline>
<outline type="rss" text="Bad" xmlUrl="notaurl"/>
</body></opml>`

	resp, err := http.Post(e.srv.URL+"/api/opml", "text/x-opml", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("post opml: %v", err)
	}
	var sum registry.ImportSummary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if diff := cmp.Diff(registry.ImportSummary{Total: 3, Added: 2, Failed: 1}, sum); diff != "" {
		t.Errorf("raw import (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "subs.opml")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(doc))
	_ = mw.Close()

	resp, err = http.Post(e.srv.URL+"/api/opml", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post multipart: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if diff := cmp.Diff(registry.ImportSummary{Total: 3, Duplicates: 2, Failed: 1}, sum); diff != "" {
		t.Errorf("multipart import (-want +got):\n%s", diff)
	}

	resp, data := e.do(t, http.MethodGet, "/api/opml", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/x-opml") {
		t.Errorf("content type %q", ct)
	}
	for _, want := range []string{"https://a.example.com/rss", "https://b.example.com/rss"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %s", want)
		}
	}

	e.expect(t, http.MethodPost, "/api/opml", "not xml", http.StatusBadRequest, nil)
}

func TestVisits(t *testing.T) {
	e := newTestEnv(t, "")

	var v dwell.Visit
	e.expect(t, http.MethodPost, "/api/visits", map[string]any{"url": "https://blog.example.com/post"}, http.StatusCreated, &v)
	if v.ID == "" || !v.Active {
		t.Fatalf("unexpected visit: %+v", v)
	}
	path := "/api/visits/" + v.ID

	e.clock.advance(10 * time.Second)
	e.expect(t, http.MethodPost, path+"/interaction", map[string]any{"kind": "scroll"}, http.StatusOK, &v)
	e.clock.advance(5 * time.Second)
	e.expect(t, http.MethodPost, path+"/visibility", map[string]any{"visible": false}, http.StatusOK, &v)
	if v.Active {
		t.Error("expected inactive after hide")
	}

	e.clock.advance(time.Minute)
	e.expect(t, http.MethodGet, path, nil, http.StatusOK, &v)
	if diff := cmp.Diff(15.0, v.DwellSeconds); diff != "" {
		t.Errorf("dwell (-want +got):\n%s", diff)
	}

	e.expect(t, http.MethodPost, path+"/visibility", map[string]any{}, http.StatusBadRequest, nil)

	e.expect(t, http.MethodDelete, path, nil, http.StatusOK, &v)
	if diff := cmp.Diff(15.0, v.DwellSeconds); diff != "" {
		t.Errorf("final dwell (-want +got):\n%s", diff)
	}
	e.expect(t, http.MethodGet, path, nil, http.StatusNotFound, nil)
	if e.visits.Len() != 0 {
		t.Errorf("expected no open visits, got %d", e.visits.Len())
	}

	e.expect(t, http.MethodPost, "/api/visits", map[string]any{"url": "javascript:alert(1)"}, http.StatusBadRequest, nil)
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t, "")
	e.addCandidate(t, "https://a.example.com/rss")

	resp, data := e.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "silentfeed_registry_operations_total") {
		t.Error("registry counter missing from /metrics")
	}
}
