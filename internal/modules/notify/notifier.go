// README: Best-effort notification routing by channel (push, email, WhatsApp).
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var ErrNotifier = errors.New("notifier failure")

type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Message is a rendered template ready for a channel.
type Message struct {
	Template string
	Title    string
	Body     string
	Data     map[string]string
}

// Sender delivers a rendered message to one recipient on one channel.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

type Router struct {
	senders   map[Channel]Sender
	templates *Templates
	log       zerolog.Logger
}

func NewRouter(templates *Templates, log zerolog.Logger) *Router {
	return &Router{
		senders:   map[Channel]Sender{},
		templates: templates,
		log:       log.With().Str("component", "notifier").Logger(),
	}
}

func (r *Router) Register(ch Channel, s Sender) {
	r.senders[ch] = s
}

func (r *Router) Send(ctx context.Context, ch Channel, recipient, template string, params map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("%w: empty recipient for %s", ErrNotifier, template)
	}
	sender, ok := r.senders[ch]
	if !ok {
		r.log.Debug().Str("channel", string(ch)).Str("template", template).Msg("channel not configured, dropping")
		return nil
	}
	msg, err := r.templates.Render(template, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotifier, err)
	}
	if err := sender.Send(ctx, recipient, msg); err != nil {
		return fmt.Errorf("%w: %s via %s: %v", ErrNotifier, template, ch, err)
	}
	return nil
}
