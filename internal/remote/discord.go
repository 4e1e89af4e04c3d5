package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord is a Gateway backed by the Discord REST API.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord opens a REST-only session for a bot token. No websocket
// connection is made.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("remote: discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("remote: discord session: %w", err)
	}
	// One attempt per call; the engine owns retry decisions.
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	return &Discord{session: s}, nil
}

// unresolved maps Discord "unknown resource" responses to ErrUnresolved.
func unresolved(what string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", what, ErrUnresolved)
		}
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage:
				return fmt.Errorf("%s: %w", what, ErrUnresolved)
			}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// FetchThread implements Gateway. Channels that are not threads are
// reported as unresolved.
func (d *Discord) FetchThread(ctx context.Context, threadID string) (*Thread, error) {
	ch, err := d.session.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, unresolved("fetch thread "+threadID, err)
	}
	if !ch.IsThread() {
		return nil, fmt.Errorf("channel %s is not a thread: %w", threadID, ErrUnresolved)
	}
	return &Thread{ID: ch.ID, GuildID: ch.GuildID}, nil
}

// SendMessage implements Gateway.
func (d *Discord) SendMessage(ctx context.Context, thread *Thread, content string) (*Message, error) {
	m, err := d.session.ChannelMessageSend(thread.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, unresolved("send message", err)
	}
	return convert(m), nil
}

// EditMessage implements Gateway.
func (d *Discord) EditMessage(ctx context.Context, thread *Thread, messageID, content string) (*Message, error) {
	m, err := d.session.ChannelMessageEdit(thread.ID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, unresolved("edit message "+messageID, err)
	}
	return convert(m), nil
}

// FetchMessage implements Gateway.
func (d *Discord) FetchMessage(ctx context.Context, thread *Thread, messageID string) (*Message, error) {
	m, err := d.session.ChannelMessage(thread.ID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, unresolved("fetch message "+messageID, err)
	}
	return convert(m), nil
}

// FetchStarterMessage implements Gateway. A forum post's starter message
// shares the thread's snowflake.
func (d *Discord) FetchStarterMessage(ctx context.Context, thread *Thread) (*Message, error) {
	return d.FetchMessage(ctx, thread, thread.ID)
}

// PinMessage implements Gateway.
func (d *Discord) PinMessage(ctx context.Context, msg *Message) error {
	if err := d.session.ChannelMessagePin(msg.ChannelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		return unresolved("pin message "+msg.ID, err)
	}
	msg.Pinned = true
	return nil
}

// DeleteMessage implements Gateway.
func (d *Discord) DeleteMessage(ctx context.Context, thread *Thread, messageID string) error {
	if err := d.session.ChannelMessageDelete(thread.ID, messageID, discordgo.WithContext(ctx)); err != nil {
		return unresolved("delete message "+messageID, err)
	}
	return nil
}

func convert(m *discordgo.Message) *Message {
	return &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content, Pinned: m.Pinned}
}

var _ Gateway = (*Discord)(nil)
