// Package matrix provides the outbound-only Matrix client Sekimori uses to
// mirror approval traffic into an operator room.  There is no sync loop and
// no command handling: the client only posts notices.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Room receives the approval notices.
	Room string
}

// Client posts notices to a single operator room.
type Client struct {
	client *mautrix.Client
	room   id.RoomID
}

// New creates the client and joins the configured room.
func New(cfg *Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{client: client, room: id.RoomID(cfg.Room)}

	if _, err := client.JoinRoomByID(context.Background(), c.room); err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a
		// member of the room.
		if !errors.Is(err, mautrix.MForbidden) {
			return nil, fmt.Errorf("failed to join room %s: %w", cfg.Room, err)
		}
		slog.Warn("join room: already a member or access denied, continuing", "room", cfg.Room)
	}

	return c, nil
}

// SendNotice posts a notice (less intrusive than a normal message) to the
// operator room.  Implements notify.RoomSender.
func (c *Client) SendNotice(ctx context.Context, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, c.room, event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}
