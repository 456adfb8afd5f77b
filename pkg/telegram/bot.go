// Package telegram sends run summaries to a Telegram chat using the
// tgbotapi library.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLen is the longest message sent in one piece.
const MaxMessageLen = 4000

// Notify policies.
const (
	NotifyNever   = "never"
	NotifyFailure = "failure"
	NotifyAlways  = "always"
)

// Bot wraps tgbotapi.BotAPI for sending notifications.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *logger.Logger
	retry  utils.RetryConfig
	mu     sync.Mutex
}

// NewBot validates the token via an API call and returns a ready Bot.
// Returns (nil, nil) when token or chatID is empty (Telegram not configured).
func NewBot(token string, chatID int64, log *logger.Logger) (*Bot, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newBot(api, chatID, log), nil
}

// NewBotWithEndpoint is NewBot against another Bot API server, given as a
// format string like tgbotapi.APIEndpoint.
func NewBotWithEndpoint(token string, chatID int64, endpoint string, log *logger.Logger) (*Bot, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newBot(api, chatID, log), nil
}

func newBot(api *tgbotapi.BotAPI, chatID int64, log *logger.Logger) *Bot {
	api.Debug = false
	return &Bot{
		api:    api,
		chatID: chatID,
		logger: log,
		retry:  utils.DefaultRetryConfig(),
	}
}

// SendMessage sends a Markdown-formatted message to the configured chat.
// Messages longer than MaxMessageLen are split.
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	if b == nil {
		return nil
	}
	for _, part := range splitText(text, MaxMessageLen) {
		if err := b.sendSingleMessage(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// sendSingleMessage sends one message with Markdown parse mode, retrying
// transient failures. On parse error, it retries without formatting.
func (b *Bot) sendSingleMessage(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	send := func() error {
		_, err := b.api.Send(msg)
		if err != nil && isParseError(err) {
			b.logf("Markdown parse error, retrying without formatting: %v", err)
			msg.ParseMode = ""
			_, err = b.api.Send(msg)
		}
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.logf("Telegram send failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
	}
	if err := utils.ExecuteWithRetryContext(ctx, send, b.retry, notify); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// NotifyRun sends the run summary when policy asks for it. It reports
// whether a message was sent.
func (b *Bot) NotifyRun(ctx context.Context, rep *report.Report, policy string) (bool, error) {
	if b == nil || !ShouldNotify(policy, rep.Passed()) {
		return false, nil
	}
	if err := b.SendMessage(ctx, FormatSummary(rep)); err != nil {
		return false, err
	}
	return true, nil
}

// ShouldNotify applies a notify policy to a run outcome.
func ShouldNotify(policy string, passed bool) bool {
	switch policy {
	case NotifyAlways:
		return true
	case NotifyFailure:
		return !passed
	}
	return false
}

// FormatSummary renders a report as a Markdown message.
func FormatSummary(rep *report.Report) string {
	var sb strings.Builder
	icon := "✅"
	if !rep.Passed() {
		icon = "❌"
	}
	sb.WriteString(fmt.Sprintf("%s *FunnelCheck* %s\n", icon, escapeMarkdown(rep.Summary().String())))
	sb.WriteString(fmt.Sprintf("run `%s` on %s, %s\n\n", rep.RunID, rep.Driver, rep.Duration().Round(time.Second)))
	for _, res := range rep.Results {
		mark := "✅"
		switch res.Status {
		case report.StatusFailed:
			mark = "❌"
		case report.StatusSkipped:
			mark = "⏭"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", mark, escapeMarkdown(res.Name)))
		if res.Status == report.StatusFailed && res.Error != "" {
			sb.WriteString("```\n" + strings.ReplaceAll(res.Error, "```", "'''") + "\n```\n")
		}
	}
	return sb.String()
}

// GetBotUsername returns the bot's Telegram username (e.g. "FunnelBot").
// Returns empty string if the bot or API is not initialized.
func (b *Bot) GetBotUsername() string {
	if b == nil || b.api == nil {
		return ""
	}
	return b.api.Self.UserName
}

// ValidateToken checks if a bot token is valid by calling the Telegram API.
// Returns the bot username on success.
func ValidateToken(token string) (string, error) {
	return ValidateTokenWithEndpoint(token, tgbotapi.APIEndpoint)
}

// ValidateTokenWithEndpoint is ValidateToken against another Bot API server.
func ValidateTokenWithEndpoint(token, endpoint string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return "", fmt.Errorf("telegram: %w", err)
	}
	return api.Self.UserName, nil
}

// splitText splits text into chunks of at most maxLen bytes, preferring to
// break at newlines and never inside a UTF-8 sequence.
func splitText(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}

		splitPos := maxLen
		if nl := strings.LastIndex(text[:maxLen], "\n"); nl > maxLen/2 {
			splitPos = nl + 1
		} else {
			for splitPos > 0 && !utf8.RuneStart(text[splitPos]) {
				splitPos--
			}
			if splitPos == 0 {
				splitPos = maxLen
			}
		}

		parts = append(parts, text[:splitPos])
		text = text[splitPos:]
	}
	return parts
}

// isParseError returns true if the error is a Telegram parse/markdown error.
func isParseError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "can't parse")
}

// isTransient reports whether a send error is worth retrying: network
// failures, rate limits and server errors.
func isTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`).Replace(s)
}

// logf writes to the logger if available.
func (b *Bot) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Info(format, args...)
		return
	}
	logger.Infof(format, args...)
}
