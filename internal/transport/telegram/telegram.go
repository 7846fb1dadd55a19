// Package telegram implements transport.Adapter on telebot long polling.
package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"agentbot/internal/runtime/supervisor"
	"agentbot/internal/transport"
	"agentbot/pkg/logx"
)

// telegramTextLimit is Telegram's hard cap for one message.
const telegramTextLimit = 4096

// Config configures the telegram connection.
type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout, default 10s
	// SendInterval throttles outgoing messages; default 50ms between sends.
	SendInterval time.Duration
}

// Adapter bridges telebot to the transport types.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	// dropped counts inbound updates discarded because the consumer lagged.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 50 * time.Millisecond
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), 5),
	}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Document == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Caption,
				FileID:       m.Document.FileID,
				FileName:     m.Document.FileName,
				FileSize:     m.Document.FileSize,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Photo == nil {
			return nil
		}
		// Photos carry no filename; synthesize one from the file id.
		a.forward(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Caption,
				FileID:       m.Photo.FileID,
				FileName:     "photo_" + m.Photo.FileID + ".jpg",
				FileSize:     m.Photo.FileSize,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || cb.Sender == nil || m == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				FromID:    cb.Sender.ID,
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func (a *Adapter) forward(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		// Dropping beats blocking the poll loop; count and move on.
		if n := atomic.AddUint64(&a.dropped, 1); n%100 == 1 {
			a.log.Warn("inbound updates dropped, consumer lagging", logx.Uint64("total", n))
		}
	}
}

// Start begins long polling and forwards updates to out.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.sup.Go("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	a.sup.Go("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start() // blocks until bot.Stop
		a.log.Info("polling stopped")
	})
	return nil
}

// Stop halts polling. Bounded by ctx; a hung long-poll never blocks
// shutdown past the deadline.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if err := sup.Stop(ctx); err != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// SendText sends text to a chat, splitting at the platform limit and
// throttling through the outgoing rate limiter. It returns a ref to the
// first sent message.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitText(text, telegramTextLimit)

	chat := &tele.Chat{ID: to.ChatID}
	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Markup goes on the first chunk only.
		if i == 0 {
			if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of a sent message. Text past the platform
// limit continues in fresh messages.
func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitText(text, telegramTextLimit)

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		sendOpt.ReplyMarkup = rm
	}
	if _, err := a.bot.Edit(m, chunks[0], sendOpt); err != nil {
		return err
	}

	for _, chunk := range chunks[1:] {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendFile uploads a local file as a document attachment.
func (a *Adapter) SendFile(ctx context.Context, to transport.ChatTarget, path string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromDisk(path),
		FileName: filepath.Base(path),
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc)
	return err
}

// DownloadFile fetches the Telegram file behind fileID into destPath.
func (a *Adapter) DownloadFile(ctx context.Context, fileID, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Download(&tele.File{FileID: fileID}, destPath)
}

// ConfirmMarkup builds a two-button inline keyboard whose callbacks carry
// the given data payloads.
func ConfirmMarkup(approveText, approveData, denyText, denyData string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(
		rm.Data(approveText, "confirm", approveData),
		rm.Data(denyText, "confirm", denyData),
	))
	return rm
}

// splitText breaks s into rune-safe chunks of at most limit runes,
// preferring newline boundaries in the last third of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}
		cut := end
		for i := end - 1; i > start+limit*2/3; i-- {
			if rs[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:cut]), "\n"))
		start = cut
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
