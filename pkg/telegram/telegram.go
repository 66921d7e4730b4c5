// Package telegram runs the control chat bot: it executes operator
// commands, relays tracker notifications and feeds messages from source
// group chats into the extraction pipeline.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	tb "gopkg.in/tucnak/telebot.v2"
)

type Bot struct {
	bot      *tb.Bot
	chat     *tb.Chat
	boot     time.Time
	log      *logrus.Entry
	messages chan string
}

func New(token string, chatID int64, log *logrus.Entry) (*Bot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create bot: %w", err)
	}
	chat, err := b.ChatByID(strconv.FormatInt(chatID, 10))
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't get chat %d: %w", chatID, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bot := &Bot{
		bot:      b,
		chat:     chat,
		boot:     time.Now(),
		log:      log,
		messages: make(chan string, 100),
	}
	return bot, nil
}

// HandleCommand registers a control chat command. Commands from other
// chats and messages older than the boot time are dropped.
func (b *Bot) HandleCommand(command string, handler func(sender int64, payload string)) {
	b.bot.Handle(fmt.Sprintf("/%s", command), func(m *tb.Message) {
		if m.Chat.ID != b.chat.ID {
			return
		}
		if m.Time().Before(b.boot) {
			return
		}
		handler(senderID(m), m.Payload)
	})
}

// HandleText routes non-command messages: control chat text goes to
// control, text from a chat in sources goes to submit with the chat's
// label. Captioned media use the caption as text.
func (b *Bot) HandleText(control func(sender int64, text string), sources map[int64]string, submit func(source, text string)) {
	handle := func(m *tb.Message) {
		if m.Time().Before(b.boot) {
			return
		}
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		if text == "" {
			return
		}
		if m.Chat.ID == b.chat.ID {
			control(senderID(m), text)
			return
		}
		if label, ok := sources[m.Chat.ID]; ok {
			submit(label, text)
		}
	}
	b.bot.Handle(tb.OnText, handle)
	b.bot.Handle(tb.OnPhoto, handle)
	b.bot.Handle(tb.OnChannelPost, handle)
}

func (b *Bot) Run(ctx context.Context) error {
	go b.bot.Start()
	defer b.bot.Stop()
	defer b.bot.Send(b.chat, "🛑 bot stopping")
	var msg string
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg = <-b.messages:
		}
		opts := tb.ModeDefault
		if strings.Contains(msg, "`") {
			opts = tb.ModeMarkdown
		}
		if _, err := b.bot.Send(b.chat, msg, opts); err != nil {
			b.log.WithError(err).Error("telegram: couldn't send message")
		}
		select {
		case <-ctx.Done():
			return nil
		// Wait to avoid rate limit errors
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Print queues a message for the control chat and mirrors it to the log.
func (b *Bot) Print(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	b.log.Info(strings.TrimSuffix(msg, "\n"))
	b.messages <- msg
}

func senderID(m *tb.Message) int64 {
	if m.Sender == nil {
		return 0
	}
	return int64(m.Sender.ID)
}
