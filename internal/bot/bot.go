// Package bot exposes the feed registry as a Telegram command interface.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"silentfeed/internal/config"
	"silentfeed/internal/model"
	"silentfeed/internal/registry"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Registry is the set of feed operations the bot exposes.
type Registry interface {
	AddCandidate(ctx context.Context, d model.FeedDescriptor) (string, error)
	SubscribeURL(ctx context.Context, url string, source model.SubscriptionSource) (string, error)
	Subscribe(ctx context.Context, id string, source model.SubscriptionSource) error
	Unsubscribe(ctx context.Context, id string) error
	Ignore(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ToggleActive(ctx context.Context, id string) (bool, error)
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	GetFeeds(ctx context.Context, statuses ...model.FeedStatus) ([]model.Feed, error)
	RefreshFeed(ctx context.Context, id string) (registry.RefreshSummary, error)
	AnalyzeFeed(ctx context.Context, id string, force bool) (*model.Quality, error)
	AnalyzeCandidates(ctx context.Context, limit int) (registry.AnalyzeSummary, error)
	GetStats(ctx context.Context) model.Stats
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api telegramAPI
	reg Registry
	cfg *config.Config
	log *slog.Logger
}

// New creates a Bot with the given Telegram token, registry, and config.
func New(token string, reg Registry, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api: api,
		reg: reg,
		cfg: cfg,
		log: log.With("component", "bot"),
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "discover":
		b.handleDiscover(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID, args)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case cmdSubscribe:
		b.handleSubscribe(ctx, chatID, args)
	case "unsubscribe":
		b.handleUnsubscribe(ctx, chatID, args)
	case cmdIgnore:
		b.handleIgnore(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case cmdCheck:
		b.handleCheck(ctx, chatID, args)
	case cmdAnalyze:
		b.handleAnalyze(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
