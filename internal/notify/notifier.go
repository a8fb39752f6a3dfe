// Package notify raises transient user-facing notifications, such as an
// error reported by the backend mid-query.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
)

// ErrNoChannel is returned when a SlackNotifier has no target channel.
var ErrNoChannel = errors.New("notify: slack channel not configured") //nolint:gochecknoglobals // sentinel error

// Notifier delivers a short notification text.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogNotifier writes notifications to a zerolog logger at warn level.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses the global logger.
func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.logger.Warn().Str("notification", text).Msg("notify")
	return nil
}

// SlackAPI abstracts the subset of the Slack client used by SlackNotifier.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts notifications to a single Slack channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
}

// Compile-time interface checks.
var (
	_ Notifier = (*LogNotifier)(nil)   //nolint:gochecknoglobals // compile-time check
	_ Notifier = (*SlackNotifier)(nil) //nolint:gochecknoglobals // compile-time check
)

// NewSlackNotifier creates a SlackNotifier posting to channel.
func NewSlackNotifier(api SlackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

// NewSlackNotifierFromToken builds the Slack client from a bot token.
func NewSlackNotifierFromToken(token, channel string) *SlackNotifier {
	return NewSlackNotifier(slacklib.New(token), channel)
}

func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	if n.channel == "" {
		return fmt.Errorf("notify.SlackNotifier.Notify: %w", ErrNoChannel)
	}
	if _, _, err := n.api.PostMessageContext(ctx, n.channel, slacklib.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("notify.SlackNotifier.Notify: %w", err)
	}
	return nil
}
