package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Keyboard is a persistent reply keyboard: rows of button labels.
// Pressing a button sends its label as a plain text message.
type Keyboard struct {
	Rows   [][]string
	Resize bool
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       *Keyboard
}

// Sender is the outbound half of an adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendPhoto uploads the image at path with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, path string, caption string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
