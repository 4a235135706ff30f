package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"silentfeed/internal/config"
	"silentfeed/internal/fetcher"
	"silentfeed/internal/model"
	"silentfeed/internal/quality"
	"silentfeed/internal/registry"
	"silentfeed/internal/storage"
	"silentfeed/internal/txn"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockHTTPClient struct {
	body string
	err  error
}

func (m *mockHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// --- helpers ---

type testEnv struct {
	bot   *Bot
	api   *mockAPI
	reg   *registry.Registry
	store *storage.SQLite
}

// newTestBot wires a bot to a real registry over in-memory SQLite. Every
// HTTP request answers with httpBody. Feed ids are 00000001-..., 00000002-...
func newTestBot(t *testing.T, httpBody string) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fetcher.New(&mockHTTPClient{body: httpBody})
	seq := 0
	reg := registry.New(registry.Deps{
		Store:    store,
		Txn:      txn.NewCoordinator(store, txn.RetryConfig{MaxAttempts: 1}, log),
		Fetcher:  f,
		Analyzer: quality.NewAnalyzer(f, 24*time.Hour, time.Now),
		Log:      log,
		NewID: func() string {
			seq++
			return fmt.Sprintf("%08d-0000-4000-8000-000000000000", seq)
		},
	}, registry.Options{RecommendThreshold: 70})

	api := &mockAPI{}
	b := &Bot{
		api: api,
		reg: reg,
		cfg: &config.Config{AnalyzeBatch: 10},
		log: log,
	}
	return &testEnv{bot: b, api: api, reg: reg, store: store}
}

func (e *testEnv) seedCandidate(t *testing.T, url string) string {
	t.Helper()
	id, err := e.reg.AddCandidate(context.Background(), model.FeedDescriptor{URL: url, Title: "Candidate " + url})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	return id
}

func (e *testEnv) seedSubscribed(t *testing.T, url string) string {
	t.Helper()
	id := e.seedCandidate(t, url)
	if err := e.reg.Subscribe(context.Background(), id, model.SourceManual); err != nil {
		t.Fatalf("seed subscribe: %v", err)
	}
	return id
}

func (e *testEnv) feed(t *testing.T, id string) *model.Feed {
	t.Helper()
	f, err := e.reg.GetFeed(context.Background(), id)
	if err != nil {
		t.Fatalf("get feed %s: %v", id, err)
	}
	return f
}

func loadSampleXML(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read sample xml: %v", err)
	}
	return string(data)
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	e := newTestBot(t, "")
	e.bot.handleStart(100)
	requireContains(t, e.api.lastText(), "Welcome to SilentFeed")
}

func TestHandleHelp(t *testing.T) {
	e := newTestBot(t, "")
	e.bot.handleHelp(100)
	requireContains(t, e.api.lastText(), "/add")
	requireContains(t, e.api.lastText(), "/analyze")
}

func TestHandleAdd(t *testing.T) {
	xml := loadSampleXML(t)
	ctx := context.Background()

	t.Run("empty args", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.bot.handleAdd(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Usage: /add")
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.bot.handleAdd(ctx, 100, "ftp://devops.example.com/rss")
		requireContains(t, e.api.lastText(), "Usage: /add")
	})

	t.Run("not a feed", func(t *testing.T) {
		e := newTestBot(t, "not xml at all")
		e.bot.handleAdd(ctx, 100, "https://bad.example.com")
		requireContains(t, e.api.lastText(), "Failed to add feed")

		feeds, _ := e.reg.GetFeeds(ctx)
		if diff := cmp.Diff(0, len(feeds)); diff != "" {
			t.Errorf("feed count (-want +got):\n%s", diff)
		}
	})

	t.Run("success uses feed title", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.bot.handleAdd(ctx, 100, "https://devops.example.com/rss")
		requireContains(t, e.api.lastText(), "Subscribed!")
		requireContains(t, e.api.lastText(), "00000001 DevOps Weekly")

		feeds, _ := e.reg.GetFeeds(ctx, model.FeedSubscribed)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Fatalf("feed count (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(model.SourceManual, feeds[0].SubscriptionSource); diff != "" {
			t.Errorf("source (-want +got):\n%s", diff)
		}
	})

	t.Run("same feed twice", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.bot.handleAdd(ctx, 100, "https://devops.example.com/rss")
		e.bot.handleAdd(ctx, 100, "https://devops.example.com/rss/")
		requireContains(t, e.api.lastText(), "00000001")

		feeds, _ := e.reg.GetFeeds(ctx)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Errorf("feed count (-want +got):\n%s", diff)
		}
	})
}

func TestHandleDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("records candidate", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleDiscover(ctx, 100, "https://blog.example.com/feed.xml")
		requireContains(t, e.api.lastText(), "Candidate 00000001 recorded")
		if e.api.last().Markup == nil {
			t.Error("expected inline keyboard")
		}

		f := e.feed(t, "00000001-0000-4000-8000-000000000000")
		if diff := cmp.Diff("telegram", f.DiscoveredFrom); diff != "" {
			t.Errorf("discovered from (-want +got):\n%s", diff)
		}
	})

	t.Run("known feed", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedSubscribed(t, "https://blog.example.com/feed.xml")
		e.bot.handleDiscover(ctx, 100, "https://blog.example.com/feed.xml")
		requireContains(t, e.api.lastText(), "Already known")
		requireContains(t, e.api.lastText(), "[subscribed]")
	})
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleList(ctx, 100, "")
		requireContains(t, e.api.lastText(), "No feeds yet")
	})

	t.Run("grouped by status", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedSubscribed(t, "https://a.example.com/rss")
		e.seedCandidate(t, "https://b.example.com/rss")

		e.bot.handleList(ctx, 100, "")
		reply := e.api.lastText()
		requireContains(t, reply, "Subscribed (1)")
		requireContains(t, reply, "00000001 Candidate https://a.example.com/rss (0 unread)")
		requireContains(t, reply, "Candidate (1)")
	})

	t.Run("filtered", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedSubscribed(t, "https://a.example.com/rss")
		e.seedCandidate(t, "https://b.example.com/rss")

		e.bot.handleList(ctx, 100, "candidate")
		reply := e.api.lastText()
		if strings.Contains(reply, "Subscribed") {
			t.Errorf("unexpected subscribed group:\n%s", reply)
		}
		requireContains(t, reply, "00000002")
	})

	t.Run("unknown status", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleList(ctx, 100, "archived")
		requireContains(t, e.api.lastText(), "unknown status")
	})
}

func TestHandleInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleInfo(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Usage: /info")
	})

	t.Run("not found", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleInfo(ctx, 100, "deadbeef")
		requireContains(t, e.api.lastText(), "Feed deadbeef not found")
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedCandidate(t, "https://a.example.com/rss")
		e.seedCandidate(t, "https://b.example.com/rss")
		e.bot.handleInfo(ctx, 100, "0000000")
		requireContains(t, e.api.lastText(), "matches 2 feeds")
	})

	t.Run("by prefix", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedCandidate(t, "https://my.example.com/rss")
		e.bot.handleInfo(ctx, 100, "00000001")
		reply := e.api.lastText()
		requireContains(t, reply, "[candidate]")
		requireContains(t, reply, "https://my.example.com/rss")
		requireContains(t, reply, "Quality: not analyzed")
	})

	t.Run("by full id", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedSubscribed(t, "https://my.example.com/rss")
		e.bot.handleInfo(ctx, 100, id)
		requireContains(t, e.api.lastText(), "Refresh: active")
	})
}

func TestHandleTransitions(t *testing.T) {
	ctx := context.Background()
	e := newTestBot(t, "")
	id := e.seedCandidate(t, "https://a.example.com/rss")

	e.bot.handleSubscribe(ctx, 100, "00000001")
	requireContains(t, e.api.lastText(), "subscribed.")
	if diff := cmp.Diff(model.FeedSubscribed, e.feed(t, id).Status); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}

	e.bot.handleIgnore(ctx, 100, "00000001")
	requireContains(t, e.api.lastText(), "Cannot ignore feed 00000001")

	e.bot.handleUnsubscribe(ctx, 100, "00000001")
	requireContains(t, e.api.lastText(), "unsubscribed.")
	if diff := cmp.Diff(model.FeedIgnored, e.feed(t, id).Status); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}

	e.bot.handleUnsubscribe(ctx, 100, "00000001")
	requireContains(t, e.api.lastText(), "Cannot unsubscribe")

	e.bot.handleSubscribe(ctx, 100, "")
	requireContains(t, e.api.lastText(), "Usage: /subscribe")
}

func TestHandleRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleRemove(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Usage: /remove")
	})

	t.Run("subscribed feed refused", func(t *testing.T) {
		e := newTestBot(t, "")
		e.seedSubscribed(t, "https://a.example.com/rss")
		e.bot.handleRemove(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "Use /unsubscribe first")
	})

	t.Run("asks for confirmation", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedCandidate(t, "https://a.example.com/rss")
		e.bot.handleRemove(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "This cannot be undone")
		if e.api.last().Markup == nil {
			t.Error("expected confirmation keyboard")
		}
		e.feed(t, id)
	})
}

func TestHandleSetActive(t *testing.T) {
	ctx := context.Background()
	e := newTestBot(t, "")
	id := e.seedSubscribed(t, "https://a.example.com/rss")

	e.bot.handleSetActive(ctx, 100, "00000001", true)
	requireContains(t, e.api.lastText(), "already active")

	e.bot.handleSetActive(ctx, 100, "00000001", false)
	requireContains(t, e.api.lastText(), "paused.")
	if e.feed(t, id).IsActive {
		t.Error("expected feed paused")
	}

	e.bot.handleSetActive(ctx, 100, "00000001", true)
	requireContains(t, e.api.lastText(), "resumed.")
	if !e.feed(t, id).IsActive {
		t.Error("expected feed active")
	}

	e.seedCandidate(t, "https://b.example.com/rss")
	e.bot.handleSetActive(ctx, 100, "00000002", false)
	requireContains(t, e.api.lastText(), "Cannot pause feed 00000002")
}

func TestHandleCheck(t *testing.T) {
	xml := loadSampleXML(t)
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.bot.handleCheck(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Usage: /check")
	})

	t.Run("new then nothing new", func(t *testing.T) {
		e := newTestBot(t, xml)
		id := e.seedSubscribed(t, "https://devops.example.com/rss")

		e.bot.handleCheck(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "Found 5 new article(s)")

		e.bot.handleCheck(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "No new articles")
		requireContains(t, e.api.lastText(), "(5 total)")

		if diff := cmp.Diff(5, e.feed(t, id).UnreadCount); diff != "" {
			t.Errorf("unread (-want +got):\n%s", diff)
		}
	})

	t.Run("fetch failure recorded", func(t *testing.T) {
		e := newTestBot(t, "not xml")
		id := e.seedSubscribed(t, "https://bad.example.com/rss")

		e.bot.handleCheck(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "Failed to refresh")
		if e.feed(t, id).LastError == "" {
			t.Error("expected last error recorded")
		}
	})
}

func TestHandleAnalyze(t *testing.T) {
	xml := loadSampleXML(t)
	ctx := context.Background()

	t.Run("batch", func(t *testing.T) {
		e := newTestBot(t, xml)
		e.seedCandidate(t, "https://a.example.com/rss")
		e.seedSubscribed(t, "https://b.example.com/rss")

		e.bot.handleAnalyze(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Analyzed 1 of 1 candidates: 1 ok, 0 failed")

		e.bot.handleAnalyze(ctx, 100, "")
		requireContains(t, e.api.lastText(), "Nothing to analyze")
	})

	t.Run("single feed", func(t *testing.T) {
		e := newTestBot(t, xml)
		id := e.seedCandidate(t, "https://a.example.com/rss")

		e.bot.handleAnalyze(ctx, 100, "00000001")
		requireContains(t, e.api.lastText(), "Quality:")
		requireContains(t, e.api.lastText(), "Reachable: yes, valid format: yes")
		if e.feed(t, id).Quality == nil {
			t.Error("expected stored quality")
		}
	})
}

func TestHandleStats(t *testing.T) {
	ctx := context.Background()
	e := newTestBot(t, "")
	e.seedSubscribed(t, "https://a.example.com/rss")
	e.seedCandidate(t, "https://b.example.com/rss")
	e.seedCandidate(t, "https://c.example.com/rss")

	e.bot.handleStats(ctx, 100)
	reply := e.api.lastText()
	requireContains(t, reply, "Feeds: 3")
	requireContains(t, reply, "Subscribed: 1")
	requireContains(t, reply, "Candidates: 2 (0 recommended)")
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	t.Run("dispatches known commands", func(t *testing.T) {
		e := newTestBot(t, "")

		cmds := []struct {
			cmd      string
			args     string
			contains string
		}{
			{"start", "", "Welcome"},
			{"help", "", "/add"},
			{"list", "", "No feeds yet"},
			{"stats", "", "Feeds: 0"},
			{"discover", "https://x.example.com/rss", "Candidate 00000001 recorded"},
			{"pause", "", "Usage: /pause"},
			{"resume", "", "Usage: /resume"},
			{"unknown_cmd", "", "Unknown command"},
		}

		for _, tc := range cmds {
			e.api.reset()
			e.bot.handleCommand(ctx, makeMsg(tc.cmd, tc.args))
			requireContains(t, e.api.lastText(), tc.contains)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	callback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: 1},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleCallback(ctx, callback("nocolon"))
		if diff := cmp.Diff(0, len(e.api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("noop", func(t *testing.T) {
		e := newTestBot(t, "")
		e.bot.handleCallback(ctx, callback("noop:0"))
		if diff := cmp.Diff(0, len(e.api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("subscribe callback", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedCandidate(t, "https://a.example.com/rss")
		e.bot.handleCallback(ctx, callback("subscribe:"+id))
		requireContains(t, e.api.lastText(), "subscribed.")
	})

	t.Run("ignore callback", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedCandidate(t, "https://a.example.com/rss")
		e.bot.handleCallback(ctx, callback("ignore:"+id))
		requireContains(t, e.api.lastText(), "ignored.")
	})

	t.Run("delete_confirm callback", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedCandidate(t, "https://a.example.com/rss")
		e.bot.handleCallback(ctx, callback("delete_confirm:"+id))
		requireContains(t, e.api.lastText(), "Delete 00000001")
	})

	t.Run("delete callback", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedCandidate(t, "https://a.example.com/rss")
		e.bot.handleCallback(ctx, callback("delete:"+id))
		requireContains(t, e.api.lastText(), "deleted")

		feeds, _ := e.reg.GetFeeds(ctx)
		if diff := cmp.Diff(0, len(feeds)); diff != "" {
			t.Errorf("feeds should be empty (-want +got):\n%s", diff)
		}
	})

	t.Run("delete subscribed refused", func(t *testing.T) {
		e := newTestBot(t, "")
		id := e.seedSubscribed(t, "https://a.example.com/rss")
		e.bot.handleCallback(ctx, callback("delete:"+id))
		requireContains(t, e.api.lastText(), "Error deleting feed")
		e.feed(t, id)
	})
}
