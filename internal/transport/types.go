// Package transport defines the platform-neutral chat surface. The router
// speaks only these types; telegram specifics stay in the adapter.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event from the chat platform.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// Attachment metadata, set when the message carries a file. Text then
	// holds the caption, if any.
	FileID   string
	FileName string
	FileSize int64
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter is a chat platform connection.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// SendFile delivers a local file as a document attachment.
	SendFile(ctx context.Context, to ChatTarget, path string) error
	// DownloadFile fetches the platform file behind fileID into destPath.
	DownloadFile(ctx context.Context, fileID, destPath string) error
}
