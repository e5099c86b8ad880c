// Package telegram announces evaluation reports via the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
)

// maxRatingLines caps the per-table lines of a report message.
const maxRatingLines = 10

// LatestFunc loads the newest archived report.
type LatestFunc func(ctx context.Context) (*models.Report, error)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that answers /ping and /latest.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, latest LatestFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || !update.Message.IsCommand() {
					continue
				}
				text, ok := commandReply(ctx, update.Message.Command(), latest)
				if !ok {
					continue
				}
				reply := tgbotapi.NewMessage(update.Message.Chat.ID, text)
				reply.ParseMode = "MarkdownV2"
				if _, err := c.bot.Send(reply); err != nil {
					logger.Warn("Failed to answer /%s: %v", update.Message.Command(), err)
				}
			}
		}
	}()
}

// commandReply returns the MarkdownV2 answer to a command, or false for
// commands the bot ignores.
func commandReply(ctx context.Context, command string, latest LatestFunc) (string, bool) {
	switch command {
	case "ping":
		return "Pong", true
	case "latest":
		r, err := latest(ctx)
		if err != nil {
			return fmt.Sprintf("⚠️ No report available: `%s`", escapeMarkdownV2(err.Error())), true
		}
		return formatReport(r), true
	}
	return "", false
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a failed-run notification.
func (c *Client) SendError(ctx context.Context, runErr error) error {
	text := fmt.Sprintf("⚠️ *Report run failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendReport announces a finished report.
func (c *Client) SendReport(ctx context.Context, r *models.Report) error {
	return c.sendMarkdownV2(ctx, formatReport(r))
}

// formatReport formats a report into a Telegram MarkdownV2 message: the best
// table ratings first, then the pooled win rates per model.
func formatReport(r *models.Report) string {
	var b strings.Builder
	b.WriteString("♟️ *Evaluation Report*\n\n")
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(r.CreatedAt.Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "🗂 %s · %d tables · `%s`\n\n",
		escapeMarkdownV2(r.Project), r.Tables, escapeMarkdownV2(r.ID))

	if len(r.Ratings) > 0 {
		ratings := append([]models.RatingResult(nil), r.Ratings...)
		sort.SliceStable(ratings, func(i, j int) bool { return ratings[i].Rating > ratings[j].Rating })

		b.WriteString("*Top ratings*\n")
		for i, x := range ratings {
			if i == maxRatingLines {
				fmt.Fprintf(&b, "   … and %d more\n", len(ratings)-maxRatingLines)
				break
			}
			line := fmt.Sprintf("%s T=%.2f vs %s %d: %.0f ± %.0f (%d/%d/%d)",
				x.Model, x.Temperature, models.EnginePrefix, x.EngineLevel,
				x.Rating, x.Deviation, x.Wins, x.Draws, x.Losses)
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(line))
		}
		b.WriteString("\n")
	}

	if len(r.WinRates) > 0 {
		b.WriteString("*Win rates*\n")
		for _, w := range r.WinRates {
			line := fmt.Sprintf("%s T=%.2f vs %s %d: %.1f%% ± %.1f%%",
				w.Model, w.Temperature, models.EnginePrefix, w.EngineLevel, w.Mean*100, w.StdDev*100)
			fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(line))
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
