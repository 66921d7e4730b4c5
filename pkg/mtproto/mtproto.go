// Package mtproto listens to Telegram channels through a user account,
// which is the only way to read broadcast channels the account merely
// follows.
package mtproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/sirupsen/logrus"
)

// Config holds the api credentials of the listening account.
type Config struct {
	ID      int
	Hash    string
	Phone   string
	Session string
}

// Listener subscribes to a set of channels, keyed by peer id with a
// human readable label per channel.
type Listener struct {
	cfg      Config
	channels map[int64]string
	log      *logrus.Entry
	code     func(context.Context) (string, error)
}

// New builds a listener. The code callback is invoked when Telegram
// requires a login code for the phone number.
func New(cfg Config, channels map[int64]string, log *logrus.Entry, code func(context.Context) (string, error)) *Listener {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{
		cfg:      cfg,
		channels: channels,
		log:      log,
		code:     code,
	}
}

// Listen runs the client until the context is cancelled, invoking
// handle with the channel label and text of every subscribed message.
func (l *Listener) Listen(ctx context.Context, handle func(source, text string)) error {
	codePrompt := func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		code, err := l.code(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(code), nil
	}

	flow := auth.NewFlow(
		auth.CodeOnly(l.cfg.Phone, auth.CodeAuthenticatorFunc(codePrompt)),
		auth.SendCodeOptions{},
	)

	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(l.cfg.ID, l.cfg.Hash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: l.cfg.Session,
		},
		UpdateHandler: dispatcher,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("mtproto: couldn't authenticate: %w", err)
		}
		// Broadcast channels arrive as channel messages, groups and
		// direct chats as plain messages.
		dispatcher.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
			if m, ok := u.Message.(*tg.Message); ok {
				l.deliver(m, handle)
			}
			return nil
		})
		dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
			if m, ok := u.Message.(*tg.Message); ok {
				l.deliver(m, handle)
			}
			return nil
		})
		l.log.WithField("channels", len(l.channels)).Info("mtproto: listening")
		<-ctx.Done()
		return nil
	})
}

func (l *Listener) deliver(m *tg.Message, handle func(source, text string)) {
	if m.Out || m.Message == "" {
		return
	}
	peerID, err := fromPeer(m.PeerID)
	if err != nil {
		l.log.WithError(err).Debug("mtproto: couldn't resolve peer")
		return
	}
	label, ok := l.channels[peerID]
	if !ok {
		return
	}
	handle(label, m.Message)
}

func fromPeer(p tg.PeerClass) (id int64, err error) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, nil
	case *tg.PeerChannel:
		return v.ChannelID, nil
	case *tg.PeerChat:
		return v.ChatID, nil
	}
	return 0, fmt.Errorf("invalid peer: %T", p)
}
