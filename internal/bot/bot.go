package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go-degen-pov/internal/assets"
	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
	"go-degen-pov/pkg/models"
)

const (
	welcomeText   = "Welcome to the Degen POV bot! Use /degenme to create an overlay in any channel, group, or DM I am in!"
	promptText    = "Hey, %s! Please reply within %s to this message with an image to see the Degen Point of View!"
	cancelledText = "Previous request cancelled. "
	expiredText   = "Your overlay request has expired. Please use the /degenme command again."
	forgotText    = "%s, you degen, you forgot to send me a picture! Please run /degenme again to send an image."
	tooFastText   = "You're sending commands too quickly. Please wait a moment before trying again."
	processing    = "Making %s a degen... Please wait..."
	captionText   = "Here you go %s, you degen."
	unknownText   = "Unknown command /%s. Did you mean /%s?"
	noAssetText   = "I don't have an overlay called %q. Try one of: %s"
	fileErrorText = "Failed to process your image. Please try again."
	noImageText   = "Please reply with an image to degen."
)

var failureText = map[apperrors.Reason]string{
	apperrors.ReasonInvalidInput:  "That doesn't look like an image I can work with. Please reply with a photo.",
	apperrors.ReasonFetch:         "Failed to download your image. Please try again.",
	apperrors.ReasonNoAnchorFound: "I couldn't find a good spot for the overlay in that picture. Try another one!",
	apperrors.ReasonAssetNotFound: "That overlay is not available right now. Please try again later.",
	apperrors.ReasonComposite:     "Failed to process your image. Please try again later.",
	apperrors.ReasonTimeout:       "Making you a degen took too long. Please try again.",
	apperrors.ReasonBusy:          "Too many degens in the making right now. Please try again in a minute.",
}

// FailureMessage returns the user-facing text for a pipeline failure
func FailureMessage(err error) string {
	if text, ok := failureText[apperrors.ReasonOf(err)]; ok {
		return text
	}
	return failureText[apperrors.ReasonComposite]
}

// Pipeline runs one overlay request
type Pipeline interface {
	Run(ctx context.Context, req models.PipelineRequest) (*models.CompositeResult, error)
}

// AssetCatalog is the read-only view of the asset registry the bot needs
type AssetCatalog interface {
	Resolve(id string) (assets.AssetSet, error)
	Names() []string
}

// Options configures the bot behaviour
type Options struct {
	BotName        string
	DefaultAsset   string
	RequestTTL     time.Duration // how long a /degenme prompt waits for an image
	RequestTimeout time.Duration // pipeline deadline per image
	RateLimit      int
	RateWindow     time.Duration
	MaxSessions    int64
}

// DefaultOptions returns the bot defaults
func DefaultOptions() Options {
	return Options{
		DefaultAsset:   "hands",
		RequestTTL:     3 * time.Minute,
		RequestTimeout: 30 * time.Second,
		RateLimit:      5,
		RateWindow:     time.Minute,
		MaxSessions:    10000,
	}
}

// Bot reacts to chat messages
type Bot struct {
	messenger Messenger
	pipeline  Pipeline
	catalog   AssetCatalog
	router    *Router
	sessions  *SessionStore
	limiter   *RateLimiter
	opts      Options
	log       *logrus.Entry
}

// New creates a bot. Close must be called to release its caches.
func New(messenger Messenger, pipeline Pipeline, catalog AssetCatalog, opts Options) (*Bot, error) {
	defaults := DefaultOptions()
	if opts.DefaultAsset == "" {
		opts.DefaultAsset = defaults.DefaultAsset
	}
	if opts.RequestTTL <= 0 {
		opts.RequestTTL = defaults.RequestTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}

	b := &Bot{
		messenger: messenger,
		pipeline:  pipeline,
		catalog:   catalog,
		opts:      opts,
		log:       logger.WithField("component", "bot"),
	}

	router, err := NewRouter(opts.BotName,
		Route{Command: "start", Description: "show the welcome message", Handler: b.handleStart},
		Route{Command: "help", Description: "list the commands", Handler: b.handleHelp},
		Route{Command: "degenme", Args: "[overlay]", Description: "put an overlay on your next image", Handler: b.handleDegenMe, Limited: true},
	)
	if err != nil {
		return nil, err
	}
	b.router = router

	b.limiter, err = NewRateLimiter(opts.RateLimit, opts.RateWindow, opts.MaxSessions)
	if err != nil {
		return nil, err
	}
	b.sessions, err = NewSessionStore(opts.MaxSessions, opts.RequestTTL, b.onExpired)
	if err != nil {
		b.limiter.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the session and rate limit caches and waits for
// pending expiry notices
func (b *Bot) Close() {
	b.sessions.Close()
	b.limiter.Close()
}

// HandleMessage routes one incoming message. Errors are logged, not returned:
// a failed reply must not stop the update loop.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	var err error
	switch {
	case strings.HasPrefix(msg.Text, "/"):
		err = b.dispatch(ctx, msg)
	case msg.PhotoFileID != "" || msg.ReplyToID != 0:
		err = b.handleReply(ctx, msg)
	}
	if err != nil {
		b.log.WithError(err).WithField("chat_id", msg.ChatID).Error("Failed to handle message")
	}
}

func (b *Bot) dispatch(ctx context.Context, msg Message) error {
	name, args, ok := b.router.Parse(msg.Text)
	if !ok {
		return nil
	}

	route, found := b.router.Lookup(name)
	if !found {
		// stay quiet for commands meant for other bots
		if suggestion, ok := b.router.Suggest(name); ok {
			return b.reply(ctx, msg.ChatID, fmt.Sprintf(unknownText, name, suggestion))
		}
		return nil
	}

	if route.Limited && !b.limiter.Allow(sessionKey(msg).String()) {
		b.log.WithField("chat_id", msg.ChatID).Info("Rate limit exceeded")
		return b.reply(ctx, msg.ChatID, tooFastText)
	}

	b.log.WithFields(logrus.Fields{"command": name, "chat_id": msg.ChatID}).Debug("Dispatching command")
	return route.Handler(ctx, &Request{Message: msg, Command: name, Args: args})
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	return b.reply(ctx, req.Message.ChatID, welcomeText)
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req.Message.ChatID, b.router.Help()+"\nOverlays: "+strings.Join(b.overlayNames(), ", "))
}

func (b *Bot) handleDegenMe(ctx context.Context, req *Request) error {
	msg := req.Message
	if msg.From == nil {
		return nil
	}

	assetID := req.Arg(0)
	if assetID == "" {
		assetID = b.opts.DefaultAsset
	} else if _, err := b.catalog.Resolve(assetID); err != nil {
		return b.reply(ctx, msg.ChatID, fmt.Sprintf(noAssetText, assetID, strings.Join(b.overlayNames(), ", ")))
	}

	key := sessionKey(msg)
	text := fmt.Sprintf(promptText, msg.From.Mention("there"), humanDuration(b.opts.RequestTTL))
	if _, pending := b.sessions.Get(key); pending {
		text = cancelledText + text
	}

	promptID, err := b.messenger.SendText(ctx, msg.ChatID, text)
	if err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	b.sessions.Put(Session{
		Key:      key,
		PromptID: promptID,
		AssetID:  assetID,
		Mention:  msg.From.Mention("Degen"),
	})
	b.log.WithFields(logrus.Fields{
		"chat_id":   msg.ChatID,
		"prompt_id": promptID,
		"asset_id":  assetID,
	}).Info("Overlay request opened")
	return nil
}

// handleReply answers a reply to the sender's pending prompt. A matching
// reply closes the request whether or not it carries a photo.
func (b *Bot) handleReply(ctx context.Context, msg Message) error {
	if msg.From == nil || msg.ReplyToID == 0 {
		return nil
	}

	session, status := b.sessions.Take(sessionKey(msg), msg.ReplyToID)
	switch status {
	case TakeMissing:
		return nil
	case TakeExpired:
		return b.reply(ctx, msg.ChatID, expiredText)
	}
	if msg.PhotoFileID == "" {
		b.log.WithField("chat_id", msg.ChatID).Info("Reply to overlay prompt has no photo")
		return b.reply(ctx, msg.ChatID, noImageText)
	}

	mention := msg.From.Mention("Anonymous")
	processingID, err := b.messenger.SendText(ctx, msg.ChatID, fmt.Sprintf(processing, mention))
	if err != nil {
		return fmt.Errorf("send processing message: %w", err)
	}
	defer b.deleteQuietly(ctx, msg.ChatID, processingID)

	fileURL, err := b.messenger.FileURL(ctx, msg.PhotoFileID)
	if err != nil {
		b.log.WithError(err).Warn("Failed to resolve photo file")
		return b.reply(ctx, msg.ChatID, fileErrorText)
	}

	result, err := b.pipeline.Run(ctx, models.PipelineRequest{
		SourceURL: fileURL,
		AssetID:   session.AssetID,
		Deadline:  time.Now().Add(b.opts.RequestTimeout),
	})
	if err != nil {
		return b.reply(ctx, msg.ChatID, FailureMessage(err))
	}

	filename := "overlay." + result.Format
	if _, err := b.messenger.SendPhoto(ctx, msg.ChatID, msg.MessageID, result.Bytes, filename, fmt.Sprintf(captionText, mention)); err != nil {
		return fmt.Errorf("send overlay: %w", err)
	}
	return nil
}

// onExpired tells the user their prompt timed out and removes the prompt
func (b *Bot) onExpired(session Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.log.WithField("session", session.Key.String()).Info("Overlay request expired")
	if err := b.reply(ctx, session.Key.ChatID, fmt.Sprintf(forgotText, session.Mention)); err != nil {
		b.log.WithError(err).Error("Failed to send expiry message")
	}
	b.deleteQuietly(ctx, session.Key.ChatID, session.PromptID)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	_, err := b.messenger.SendText(ctx, chatID, text)
	return err
}

func (b *Bot) deleteQuietly(ctx context.Context, chatID int64, messageID int) {
	if err := b.messenger.DeleteMessage(ctx, chatID, messageID); err != nil {
		b.log.WithError(err).WithField("message_id", messageID).Warn("Failed to delete message")
	}
}

func (b *Bot) overlayNames() []string {
	return b.catalog.Names()
}

func sessionKey(msg Message) SessionKey {
	key := SessionKey{ChatID: msg.ChatID}
	if msg.From != nil {
		key.UserID = msg.From.ID
	}
	return key
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
