package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "schedd/pkg/logx"
)

// Sink delivers one rendered notification. Implementations must be safe
// for concurrent use; the worker pool calls Send from multiple goroutines.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string, n Notification) error
}

// ConsoleSink writes notifications to the log. It is the fallback sink
// when no outbound channel is configured.
type ConsoleSink struct {
	log logx.Logger
}

func NewConsoleSink(log logx.Logger) *ConsoleSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ConsoleSink{log: log.With(logx.String("comp", "notify.console"))}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Send(_ context.Context, text string, n Notification) error {
	s.log.Info("notification",
		logx.String("task", n.TaskID),
		logx.String("title", n.Title),
		logx.String("text", text),
	)
	return nil
}

// TelegramConfig configures the outbound telegram sink.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink sends notifications to a single telegram chat. Outbound
// only: the bot is never started, so no poller runs.
type TelegramSink struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{
		bot:    b,
		chatID: cfg.ChatID,
		log:    log.With(logx.String("comp", "notify.telegram")),
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, text string, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, text)
	return err
}
