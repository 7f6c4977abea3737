// Package telegram delivers alert messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowatch/bowatch/internal/shared/config"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

const maxRetryAfter = 30 * time.Second

// Sender is the part of tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sink sends HTML messages to a list of chats. A failure for one chat does
// not stop delivery to the rest.
type Sink struct {
	sender Sender
	logger logger.Interface
	limit  int
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSink connects to the Bot API with the configured token.
func NewSink(cfg *config.TelegramConfig, log logger.Interface) (*Sink, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is not configured")
	}

	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIURL != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, strings.TrimRight(cfg.APIURL, "/")+"/bot%s/%s")
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", wrapAPIError(err))
	}

	log.Infow("telegram bot authorized", "username", bot.Self.UserName)
	return NewSinkWithSender(bot, log), nil
}

func NewSinkWithSender(sender Sender, log logger.Interface) *Sink {
	return &Sink{
		sender: sender,
		logger: log.Named("telegram"),
		limit:  MaxMessageLength,
		sleep:  sleepCtx,
	}
}

// Send delivers text to every destination. The returned error joins one
// DeliveryError per failed destination.
func (s *Sink) Send(ctx context.Context, destinations []string, text string) error {
	chunks := SplitMessage(text, s.limit)

	var errs []error
	for _, dest := range destinations {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &DeliveryError{Destination: dest, Err: err})
			continue
		}
		if err := s.sendChunks(ctx, dest, chunks); err != nil {
			s.logger.Warnw("telegram delivery failed",
				"destination", dest,
				"blocked", IsBotBlocked(err),
				"error", err,
			)
			errs = append(errs, &DeliveryError{Destination: dest, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) sendChunks(ctx context.Context, dest string, chunks []string) error {
	for _, chunk := range chunks {
		msg, err := newMessage(dest, chunk)
		if err != nil {
			return err
		}
		if err := s.sendWithRetry(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// sendWithRetry honours a single 429 retry_after hint.
func (s *Sink) sendWithRetry(ctx context.Context, msg tgbotapi.MessageConfig) error {
	_, err := s.sender.Send(msg)
	if err == nil {
		return nil
	}
	err = wrapAPIError(err)
	if !IsRetryAfter(err) {
		return err
	}

	wait := time.Duration(GetRetryAfter(err)) * time.Second
	if wait > maxRetryAfter {
		return err
	}
	if serr := s.sleep(ctx, wait); serr != nil {
		return serr
	}
	if _, err := s.sender.Send(msg); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// newMessage addresses numeric chat ids directly and anything else as a
// channel username.
func newMessage(dest, text string) (tgbotapi.MessageConfig, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return tgbotapi.MessageConfig{}, errors.New("empty destination")
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(dest, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		if !strings.HasPrefix(dest, "@") {
			dest = "@" + dest
		}
		msg = tgbotapi.NewMessageToChannel(dest, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogSink stands in when no bot token is configured and only logs alerts.
type LogSink struct {
	logger logger.Interface
}

func NewLogSink(log logger.Interface) *LogSink {
	return &LogSink{logger: log.Named("telegram")}
}

func (s *LogSink) Send(_ context.Context, destinations []string, text string) error {
	s.logger.Infow("telegram disabled, alert not sent",
		"destinations", destinations,
		"length", len(text),
	)
	return nil
}
