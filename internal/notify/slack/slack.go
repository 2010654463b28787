// Package slack posts run announcements to a Slack channel.
package slack

import (
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/notify"
)

// client abstracts the Slack API methods we use, enabling test mocks.
type client interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts run announcements to a fixed channel.
type Notifier struct {
	client    client
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client client
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel_id is required")
	}
	n := &Notifier{channelID: opts.ChannelID, client: opts.Client}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// RunFinished posts the run announcement to the configured channel.
func (n *Notifier) RunFinished(job *models.Job, run *models.Run) error {
	_, _, err := n.client.PostMessage(n.channelID,
		slackapi.MsgOptionText(notify.Message(job, run), false))
	if err != nil {
		return fmt.Errorf("slack: post message for run %s: %w", run.ID, err)
	}
	return nil
}
