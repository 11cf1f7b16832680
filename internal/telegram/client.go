// Package telegram connects the bot to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"go-degen-pov/internal/bot"
	"go-degen-pov/internal/logger"
	"go-degen-pov/internal/storage"
)

// Options configures the Telegram connection
type Options struct {
	Token          string
	APIEndpoint    string        // defaults to tgbotapi.APIEndpoint
	PollTimeout    int           // long polling timeout in seconds
	ConnectTimeout time.Duration // total time spent retrying the initial connection
	Debug          bool
}

// DefaultOptions returns the connection defaults
func DefaultOptions() Options {
	return Options{
		APIEndpoint:    tgbotapi.APIEndpoint,
		PollTimeout:    60,
		ConnectTimeout: 2 * time.Minute,
	}
}

// Client implements bot.Messenger on top of the Bot API
type Client struct {
	api  *tgbotapi.BotAPI
	opts Options
	log  *logrus.Entry
}

var _ bot.Messenger = (*Client)(nil)

// Connect authenticates with the Bot API, retrying with exponential backoff
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	defaults := DefaultOptions()
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = defaults.APIEndpoint
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaults.PollTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}

	log := logger.WithField("component", "telegram")
	httpClient := newHTTPClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = opts.ConnectTimeout

	var api *tgbotapi.BotAPI
	err := backoff.RetryNotify(func() error {
		var err error
		api, err = tgbotapi.NewBotAPIWithClient(opts.Token, opts.APIEndpoint, httpClient)
		if err != nil {
			err = redact(err, opts.Token)
			var tgErr *tgbotapi.Error
			if errors.As(err, &tgErr) && tgErr.Code == http.StatusUnauthorized {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait.String()).Warn("Telegram connection failed, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	api.Debug = opts.Debug
	log.WithField("bot", api.Self.UserName).Info("Connected to Telegram")
	return &Client{api: api, opts: opts, log: log}, nil
}

// newHTTPClient retries transient API failures. Its timeout leaves room for long polling.
func newHTTPClient(opts Options) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = storage.NewRetryLogger(logger.Logger)
	client.HTTPClient.Timeout = time.Duration(opts.PollTimeout)*time.Second + 30*time.Second
	return client.StandardClient()
}

// Username returns the bot's username, used to filter addressed commands
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Run polls for updates and hands each message to handle on its own goroutine.
// It returns when ctx is done and all handlers have finished; handlers
// already running are not cancelled with ctx.
func (c *Client) Run(ctx context.Context, handle func(context.Context, bot.Message)) error {
	update := tgbotapi.NewUpdate(0)
	update.Timeout = c.opts.PollTimeout
	updates := c.api.GetUpdatesChan(update)

	handlerCtx := context.WithoutCancel(ctx)
	var wg conc.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			c.log.Info("Stopped receiving Telegram updates")
			return nil
		case u, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			msg, ok := toMessage(u.Message)
			if !ok {
				continue
			}
			wg.Go(func() {
				handle(handlerCtx, msg)
			})
		}
	}
}

// SendText sends a plain text message and returns its id
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	sent, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("send message: %w", redact(err, c.opts.Token))
	}
	return sent.MessageID, nil
}

// SendPhoto uploads photo as a reply to replyTo
func (c *Client) SendPhoto(ctx context.Context, chatID int64, replyTo int, photo []byte, filename, caption string) (int, error) {
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: filename, Bytes: photo})
	cfg.Caption = caption
	cfg.ReplyToMessageID = replyTo
	sent, err := c.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", redact(err, c.opts.Token))
	}
	return sent.MessageID, nil
}

// DeleteMessage removes a message the bot sent
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", redact(err, c.opts.Token))
	}
	return nil
}

// FileURL resolves a file id to its download URL. The URL embeds the bot
// token and must never be logged.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	link, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", redact(err, c.opts.Token))
	}
	return link, nil
}

// toMessage converts an update message. Images sent as documents count as photos.
// Messages without text or an image are kept only when they are replies.
func toMessage(m *tgbotapi.Message) (bot.Message, bool) {
	if m == nil || m.Chat == nil {
		return bot.Message{}, false
	}

	msg := bot.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
	}
	if m.From != nil {
		msg.From = &bot.User{ID: m.From.ID, Username: m.From.UserName}
	}
	if m.ReplyToMessage != nil {
		msg.ReplyToID = m.ReplyToMessage.MessageID
	}

	switch {
	case len(m.Photo) > 0:
		msg.PhotoFileID = largestPhoto(m.Photo).FileID
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/"):
		msg.PhotoFileID = m.Document.FileID
	}
	if msg.Text == "" && msg.PhotoFileID == "" && msg.ReplyToID == 0 {
		return bot.Message{}, false
	}
	return msg, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// redact removes the bot token from error texts, which often contain request URLs
func redact(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
