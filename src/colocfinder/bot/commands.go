package bot

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/poster"
)

const (
	CommandPing   = "ping"
	CommandStatus = "status"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandClear  = "clear"
)

var commandDefinitions = []*discordgo.ApplicationCommand{
	{Name: CommandPing, Description: "Check that the bot is alive"},
	{Name: CommandStatus, Description: "Show scraping status and listing counts"},
	{Name: CommandPause, Description: "Pause the periodic scraping"},
	{Name: CommandResume, Description: "Resume the periodic scraping"},
	{Name: CommandClear, Description: "Delete the bot's recent messages in this channel"},
}

// registerCommands registers the global slash commands. Registration
// failures are logged, the bot keeps running without the failed
// command.
func (b *Bot) registerCommands(s *discordgo.Session, appID string) {
	for _, definition := range commandDefinitions {
		if _, err := s.ApplicationCommandCreate(appID, "", definition); err != nil {
			b.log.Error("register slash command", "command", definition.Name, "error", err)
		}
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	b.log.Debug("slash command", "command", name)

	switch name {
	case CommandPing:
		b.respond(s, i, "Pong!")
	case CommandStatus:
		b.respond(s, i, b.statusMessage())
	case CommandPause:
		b.paused.Store(true)
		b.respond(s, i, "Scraping paused.")
	case CommandResume:
		b.paused.Store(false)
		b.respond(s, i, "Scraping resumed.")
	case CommandClear:
		b.handleClear(s, i)
	}
}

func (b *Bot) handleComponent(i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	choice, recordID, ok := poster.ParseCustomID(customID)
	if !ok {
		b.log.Debug("unrecognized component interaction", "custom_id", customID)
		return
	}
	b.poster.OnTriage(i, choice, recordID)
}

func (b *Bot) statusMessage() string {
	stats, err := b.store.Stats()
	if err != nil {
		b.log.Error("load stats", "error", err)
		return "Could not load listing counts."
	}

	state := "running"
	if b.paused.Load() {
		state = "paused"
	}

	return fmt.Sprintf(
		"Scraping is **%s**.\nCities: %d | Interval: %s | Uptime: %s\nListings: %d total, %d pending, %d interesting, %d not good",
		state,
		len(b.config.Cities),
		b.config.CheckInterval,
		time.Since(b.startedAt).Round(time.Second),
		stats.Total, stats.Pending, stats.Interesting, stats.NotGood,
	)
}

// handleClear deletes the bot's own messages from the channel the
// command was used in, paging backwards through recent history. Other
// users' messages and the triage records are never touched.
func (b *Bot) handleClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Clearing my messages...",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.log.Error("respond to interaction", "error", err)
		return
	}

	channelID := i.ChannelID
	botID := s.State.User.ID

	deleted := 0
	beforeID := ""
	for {
		messages, err := s.ChannelMessages(channelID, 100, beforeID, "", "")
		if err != nil {
			b.log.Error("list channel messages", "channel", channelID, "error", err)
			break
		}
		if len(messages) == 0 {
			break
		}

		for _, msg := range messages {
			if msg.Author == nil || msg.Author.ID != botID {
				continue
			}
			if err := s.ChannelMessageDelete(channelID, msg.ID); err != nil {
				b.log.Error("delete message", "message", msg.ID, "error", err)
				continue
			}
			deleted++
			// Stay under the delete rate limit.
			time.Sleep(300 * time.Millisecond)
		}

		beforeID = messages[len(messages)-1].ID
	}

	done := fmt.Sprintf("Deleted %d of my messages.", deleted)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &done}); err != nil {
		b.log.Error("edit clear response", "error", err)
	}

	b.log.Info("channel cleared", "channel", channelID, "deleted", deleted)
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.log.Error("respond to interaction", "error", err)
	}
}
