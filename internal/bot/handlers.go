package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"silentfeed/internal/model"
	"silentfeed/internal/pool"
	"silentfeed/internal/registry"
	"silentfeed/internal/storage"
)

// discoverySource marks candidates reported through the bot.
const discoverySource = "telegram"

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to SilentFeed!

Collect feeds quietly, let quality analysis sort them, subscribe to the good ones.

Quick start:
1. /add <url> - subscribe to a feed
2. /discover <url> - remember a feed as a candidate
3. /analyze - score pending candidates

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Feeds:
/add <url> - validate and subscribe to a feed
/discover <url> - add a candidate feed
/list [candidate|subscribed|ignored] - show feeds
/info <id> - feed details
/subscribe <id> - subscribe to a candidate or ignored feed
/unsubscribe <id> - stop following a feed, history is kept
/ignore <id> - hide a candidate
/remove <id> - delete a candidate or ignored feed
/pause <id> - stop refreshing a subscription
/resume <id> - resume refreshing
/check <id> - refresh now

Quality:
/analyze [id] - analyze one feed, or the next batch of candidates
/stats - feed counts by status

Ids may be shortened to any unique prefix.`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /add <url>")
		return
	}

	id, err := b.reg.SubscribeURL(ctx, url, model.SourceManual)
	if err != nil {
		b.replyError(chatID, "Failed to add feed", err)
		return
	}

	feed, err := b.reg.GetFeed(ctx, id)
	if err != nil {
		b.replyError(chatID, "Feed added but could not be loaded", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscribed!\n%s %s\nURL: %s\nArticles arrive with the next refresh, or use /check %s.",
		shortID(feed.ID), feedName(feed), feed.URL, shortID(feed.ID)))
}

func (b *Bot) handleDiscover(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /discover <url>")
		return
	}

	id, err := b.reg.AddCandidate(ctx, model.FeedDescriptor{URL: url, DiscoveredFrom: discoverySource})
	if err != nil {
		b.replyError(chatID, "Failed to add candidate", err)
		return
	}
	feed, err := b.reg.GetFeed(ctx, id)
	if err != nil {
		b.replyError(chatID, "Candidate added but could not be loaded", err)
		return
	}
	if feed.Status != model.FeedCandidate {
		b.reply(chatID, fmt.Sprintf("Already known: %s %s [%s]", shortID(feed.ID), feedName(feed), feed.Status))
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Candidate %s recorded: %s", shortID(feed.ID), feed.URL))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = feedKeyboard(feed.ID, feed.Status)
	b.send(msg)
}

func (b *Bot) handleList(ctx context.Context, chatID int64, args string) {
	statuses, err := ParseStatusArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	feeds, err := b.reg.GetFeeds(ctx, statuses...)
	if err != nil {
		b.replyError(chatID, "Error", err)
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFeedInfo(feed))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = feedKeyboard(feed.ID, feed.Status)
	b.send(msg)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64, args string) {
	b.transition(ctx, chatID, args, "subscribe", "subscribed", func(id string) error {
		return b.reg.Subscribe(ctx, id, model.SourceManual)
	})
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64, args string) {
	b.transition(ctx, chatID, args, "unsubscribe", "unsubscribed", func(id string) error {
		return b.reg.Unsubscribe(ctx, id)
	})
}

func (b *Bot) handleIgnore(ctx context.Context, chatID int64, args string) {
	b.transition(ctx, chatID, args, "ignore", "ignored", func(id string) error {
		return b.reg.Ignore(ctx, id)
	})
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>")
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}
	if err := pool.CanDelete(feed); err != nil {
		b.reply(chatID, fmt.Sprintf("Feed %s is subscribed. Use /unsubscribe first.", shortID(feed.ID)))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete %s \"%s\" and its articles? This cannot be undone.", shortID(feed.ID), feedName(feed)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", "delete:"+feed.ID),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
		),
	)
	b.send(msg)
}

func (b *Bot) deleteFeed(ctx context.Context, chatID int64, id string) {
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}
	if err := b.reg.Delete(ctx, feed.ID); err != nil {
		b.replyError(chatID, "Error deleting feed", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" deleted.", shortID(feed.ID), feedName(feed)))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	verb := "pause"
	if active {
		verb = "resume"
	}
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", verb))
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}

	state := statusPaused
	if active {
		state = statusActive
	}
	if feed.Status == model.FeedSubscribed && feed.IsActive == active {
		b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" is already %s.", shortID(feed.ID), feedName(feed), state))
		return
	}
	if _, err := b.reg.ToggleActive(ctx, feed.ID); err != nil {
		b.replyError(chatID, fmt.Sprintf("Cannot %s feed %s", verb, shortID(feed.ID)), err)
		return
	}
	done := "paused"
	if active {
		done = "resumed"
	}
	b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" %s.", shortID(feed.ID), feedName(feed), done))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <id>")
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}

	sum, err := b.reg.RefreshFeed(ctx, feed.ID)
	if err != nil {
		b.replyError(chatID, "Failed to refresh", err)
		return
	}
	if sum.Inserted == 0 {
		b.reply(chatID, fmt.Sprintf("No new articles in %s \"%s\" (%d total).", shortID(feed.ID), feedName(feed), sum.Total))
		return
	}
	b.reply(chatID, fmt.Sprintf("Found %d new article(s) in %s \"%s\" (%d total).", sum.Inserted, shortID(feed.ID), feedName(feed), sum.Total))
}

func (b *Bot) handleAnalyze(ctx context.Context, chatID int64, args string) {
	if strings.TrimSpace(args) == "" {
		sum, err := b.reg.AnalyzeCandidates(ctx, b.cfg.AnalyzeBatch)
		if err != nil {
			b.replyError(chatID, "Analysis failed", err)
			return
		}
		b.reply(chatID, FormatAnalyzeSummary(sum))
		return
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /analyze [id]")
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}
	q, err := b.reg.AnalyzeFeed(ctx, feed.ID, true)
	if err != nil {
		b.replyError(chatID, "Analysis failed", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("%s \"%s\"\n%s", shortID(feed.ID), feedName(feed), FormatQuality(q)))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	b.reply(chatID, FormatStats(b.reg.GetStats(ctx)))
}

func (b *Bot) transition(ctx context.Context, chatID int64, args, verb, done string, fn func(id string) error) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", verb))
		return
	}
	feed, ok := b.resolveFeed(ctx, chatID, id)
	if !ok {
		return
	}
	if err := fn(feed.ID); err != nil {
		b.replyError(chatID, fmt.Sprintf("Cannot %s feed %s", verb, shortID(feed.ID)), err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed %s \"%s\" %s.", shortID(feed.ID), feedName(feed), done))
}

// resolveFeed finds a feed by full id or unique id prefix, replying to the
// chat when there is no single match.
func (b *Bot) resolveFeed(ctx context.Context, chatID int64, ref string) (*model.Feed, bool) {
	feed, err := b.reg.GetFeed(ctx, ref)
	if err == nil {
		return feed, true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		b.replyError(chatID, "Error", err)
		return nil, false
	}

	feeds, err := b.reg.GetFeeds(ctx)
	if err != nil {
		b.replyError(chatID, "Error", err)
		return nil, false
	}
	var matches []model.Feed
	for _, f := range feeds {
		if strings.HasPrefix(f.ID, ref) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		b.reply(chatID, fmt.Sprintf("Feed %s not found.", ref))
		return nil, false
	case 1:
		return &matches[0], true
	default:
		b.reply(chatID, fmt.Sprintf("Id %s matches %d feeds, use a longer prefix.", ref, len(matches)))
		return nil, false
	}
}

func (b *Bot) replyError(chatID int64, prefix string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, prefix+": not found.")
	case errors.Is(err, registry.ErrValidation), errors.Is(err, pool.ErrInvalidTransition):
		b.reply(chatID, fmt.Sprintf("%s: %v", prefix, err))
	default:
		b.log.Error(strings.ToLower(prefix), "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("%s: %v", prefix, err))
	}
}
