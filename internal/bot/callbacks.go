package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"silentfeed/internal/model"
)

const (
	cmdSubscribe = "subscribe"
	cmdIgnore    = "ignore"
	cmdCheck     = "check"
	cmdAnalyze   = "analyze"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdSubscribe:
		b.handleSubscribe(ctx, chatID, id)
	case cmdIgnore:
		b.handleIgnore(ctx, chatID, id)
	case cmdCheck:
		b.handleCheck(ctx, chatID, id)
	case cmdAnalyze:
		b.handleAnalyze(ctx, chatID, id)
	case "delete_confirm":
		feed, ok := b.resolveFeed(ctx, chatID, id)
		if !ok {
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
	case "delete":
		b.deleteFeed(ctx, chatID, id)
	}
}

// feedKeyboard offers the actions valid for a feed in the given status.
func feedKeyboard(feedID string, status model.FeedStatus) tgbotapi.InlineKeyboardMarkup {
	switch status {
	case model.FeedSubscribed:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Check now", cmdCheck+":"+feedID),
				tgbotapi.NewInlineKeyboardButtonData("Analyze", cmdAnalyze+":"+feedID),
			),
		)
	case model.FeedIgnored:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Subscribe", cmdSubscribe+":"+feedID),
				tgbotapi.NewInlineKeyboardButtonData("Delete", "delete_confirm:"+feedID),
			),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Subscribe", cmdSubscribe+":"+feedID),
			tgbotapi.NewInlineKeyboardButtonData("Ignore", cmdIgnore+":"+feedID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Analyze", cmdAnalyze+":"+feedID),
			tgbotapi.NewInlineKeyboardButtonData("Delete", "delete_confirm:"+feedID),
		),
	)
}
