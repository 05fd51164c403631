package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// RESTClient adapts a discordgo session to the DiscordAPI interface. The
// session is used for REST calls only; no gateway connection is opened.
type RESTClient struct {
	session *discordgo.Session
}

// Compile-time interface check.
var _ DiscordAPI = (*RESTClient)(nil) //nolint:gochecknoglobals // compile-time check

// NewRESTClient creates a REST-only Discord client from a bot token.
func NewRESTClient(token string) (*RESTClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord.NewRESTClient: %w", err)
	}
	return &RESTClient{session: session}, nil
}

// ChannelMessageSend posts content to the channel and returns the new
// message's ID.
func (c *RESTClient) ChannelMessageSend(channelID, content string) (string, error) {
	msg, err := c.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}
