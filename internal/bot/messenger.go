// Package bot implements the chat command layer: routing, pending overlay
// requests, rate limiting and the replies sent around a pipeline run.
// It talks to the chat network only through Messenger.
package bot

import "context"

// User is the sender of a chat message
type User struct {
	ID       int64
	Username string
}

// Mention returns "@username", or fallback for users without one
func (u *User) Mention(fallback string) string {
	if u == nil || u.Username == "" {
		return fallback
	}
	return "@" + u.Username
}

// Message is the network-neutral view of an incoming chat message
type Message struct {
	ChatID    int64
	MessageID int
	From      *User
	Text      string
	// ReplyToID is the id of the message this one answers, 0 if none
	ReplyToID int
	// PhotoFileID references the largest photo size, empty if no image is attached
	PhotoFileID string
}

// Messenger sends replies and resolves attachments on the chat network
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendPhoto(ctx context.Context, chatID int64, replyTo int, photo []byte, filename, caption string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// FileURL returns a URL the image fetcher can download the file from
	FileURL(ctx context.Context, fileID string) (string, error)
}
