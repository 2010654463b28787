// Package discord posts run announcements to a Discord channel.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts run announcements to a fixed channel.
type Notifier struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier. The REST send path needs no gateway
// connection, so there is no Open/Close lifecycle here.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel_id is required")
	}
	n := &Notifier{channelID: opts.ChannelID, sess: opts.Session}
	if n.sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = s
	}
	return n, nil
}

// RunFinished posts the run announcement to the configured channel.
func (n *Notifier) RunFinished(job *models.Job, run *models.Run) error {
	if _, err := n.sess.ChannelMessageSend(n.channelID, notify.Message(job, run)); err != nil {
		return fmt.Errorf("discord: send message for run %s: %w", run.ID, err)
	}
	return nil
}
