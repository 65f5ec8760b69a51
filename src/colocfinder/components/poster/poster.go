package poster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/data"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/store"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

// Embed colors per triage state.
const (
	colorPending     = 0x8B0000 // dark red
	colorInteresting = 0x800080 // purple
	colorNotGood     = 0x000000 // black
)

const customIDPrefix = "triage"

// Choice is a triage decision carried in a button's custom identifier.
type Choice string

const (
	ChoiceInteresting Choice = "interesting"
	ChoiceNotGood     Choice = "not_good"
)

// State maps a decision to the stored triage state.
func (c Choice) State() string {
	if c == ChoiceInteresting {
		return types.StateInteresting
	}
	return types.StateNotGood
}

// BuildCustomID encodes a decision and record identifier into a button
// custom ID.
func BuildCustomID(choice Choice, recordID string) string {
	return fmt.Sprintf("%s:%s:%s", customIDPrefix, choice, recordID)
}

// ParseCustomID decodes a button custom ID. The second return is false
// for custom IDs this component did not produce.
func ParseCustomID(customID string) (Choice, string, bool) {
	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 || parts[0] != customIDPrefix {
		return "", "", false
	}
	choice := Choice(parts[1])
	if choice != ChoiceInteresting && choice != ChoiceNotGood {
		return "", "", false
	}
	if parts[2] == "" {
		return "", "", false
	}
	return choice, parts[2], true
}

// Store is the triage state the poster reads and writes.
type Store interface {
	GetListing(externalID string) (*types.Listing, error)
	Transition(recordID, newState, actor string) (*types.TriageRecord, error)
	SetSecondaryMessageID(recordID, messageID string) error
}

// Poster publishes listings to the pending channel and applies triage
// decisions from button interactions.
type Poster struct {
	session            *discordgo.Session
	store              Store
	redis              *redis.Client
	channelID          string
	interestingChannel string
	log                *slog.Logger
}

func New(session *discordgo.Session, st Store, rdb *redis.Client, channelID, interestingChannelID string, log *slog.Logger) *Poster {
	return &Poster{
		session:            session,
		store:              st,
		redis:              rdb,
		channelID:          channelID,
		interestingChannel: interestingChannelID,
		log:                log,
	}
}

// Publish posts a listing to the pending channel with triage buttons
// and returns the message ID.
func (p *Poster) Publish(listing *types.Listing, record *types.TriageRecord) (string, error) {
	embed := BuildEmbed(listing, record, colorPending)

	msg, err := p.session.ChannelMessageSendComplex(p.channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: triageButtons(record.ID, false),
	})
	if err != nil {
		return "", fmt.Errorf("poster: send listing %s: %w", listing.ExternalID, err)
	}

	p.publishEvent(map[string]interface{}{
		"event":       "listing_posted",
		"external_id": listing.ExternalID,
		"record_id":   record.ID,
		"city":        listing.City,
	})

	return msg.ID, nil
}

// OnTriage applies a button decision. A record already decided is left
// untouched and the interaction is acknowledged without changes.
func (p *Poster) OnTriage(i *discordgo.InteractionCreate, choice Choice, recordID string) {
	actor := interactionUser(i)

	record, err := p.store.Transition(recordID, choice.State(), actor)
	if errors.Is(err, store.ErrAlreadyDecided) {
		p.log.Debug("triage already decided", "record_id", recordID, "state", record.State)
		p.acknowledge(i)
		return
	}
	if err != nil {
		p.log.Error("triage transition", "record_id", recordID, "error", err)
		p.acknowledge(i)
		return
	}

	listing, err := p.store.GetListing(record.ExternalID)
	if err != nil {
		p.log.Error("load listing for triage", "external_id", record.ExternalID, "error", err)
		p.acknowledge(i)
		return
	}

	switch choice {
	case ChoiceInteresting:
		p.applyInteresting(i, listing, record)
	case ChoiceNotGood:
		p.applyNotGood(i, listing, record)
	}

	p.publishEvent(map[string]interface{}{
		"event":       "listing_triaged",
		"external_id": record.ExternalID,
		"record_id":   record.ID,
		"state":       record.State,
		"decided_by":  actor,
	})
}

// applyInteresting mirrors the listing to the interesting channel and
// recolors the original message with its buttons disabled.
func (p *Poster) applyInteresting(i *discordgo.InteractionCreate, listing *types.Listing, record *types.TriageRecord) {
	mirror := BuildEmbed(listing, record, colorInteresting)
	msg, err := p.session.ChannelMessageSendEmbed(p.interestingChannel, mirror)
	if err != nil {
		p.log.Error("mirror interesting listing", "record_id", record.ID, "error", err)
	} else if err := p.store.SetSecondaryMessageID(record.ID, msg.ID); err != nil {
		p.log.Error("save mirror message id", "record_id", record.ID, "error", err)
	}

	updated := BuildEmbed(listing, record, colorInteresting)
	p.respondEdit(i, updated, triageButtons(record.ID, true))
}

// applyNotGood recolors the original message black, drops the image
// and removes the buttons.
func (p *Poster) applyNotGood(i *discordgo.InteractionCreate, listing *types.Listing, record *types.TriageRecord) {
	updated := BuildEmbed(listing, record, colorNotGood)
	updated.Image = nil
	p.respondEdit(i, updated, []discordgo.MessageComponent{})
}

func (p *Poster) respondEdit(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) {
	err := p.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
	})
	if err != nil {
		p.log.Error("update triaged message", "error", err)
	}
}

// acknowledge answers an interaction without changing the message, so
// the client does not show a failed interaction.
func (p *Poster) acknowledge(i *discordgo.InteractionCreate) {
	err := p.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		p.log.Debug("acknowledge interaction", "error", err)
	}
}

func (p *Poster) publishEvent(payload map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := data.PublishEvent(ctx, p.redis, payload); err != nil {
		p.log.Debug("publish event", "error", err)
	}
}

// BuildEmbed renders a listing as a Discord embed. The footer carries
// the source and record identifiers so a message remains traceable
// even outside the database.
func BuildEmbed(listing *types.Listing, record *types.TriageRecord, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: listing.Title,
		URL:   listing.URL,
		Color: color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s | ID: %s", listing.Source, record.ID),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name: "Ville", Value: listing.City, Inline: true,
	})
	if listing.Price != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Prix", Value: fmt.Sprintf("%.0f €", *listing.Price), Inline: true,
		})
	}
	if listing.Rooms != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Pièces", Value: fmt.Sprintf("%d", *listing.Rooms), Inline: true,
		})
	}
	if listing.Surface != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Surface", Value: fmt.Sprintf("%.0f m²", *listing.Surface), Inline: true,
		})
	}
	if listing.PostedAt != nil {
		// Discord renders <t:...> markers in the viewer's timezone.
		unix := listing.PostedAt.Unix()
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Publiée", Value: fmt.Sprintf("<t:%d:f> (<t:%d:R>)", unix, unix), Inline: true,
		})
	}
	if listing.ImageURL != nil {
		embed.Image = &discordgo.MessageEmbedImage{URL: *listing.ImageURL}
	}

	return embed
}

func triageButtons(recordID string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Interesting",
					Style:    discordgo.SuccessButton,
					CustomID: BuildCustomID(ChoiceInteresting, recordID),
					Disabled: disabled,
				},
				discordgo.Button{
					Label:    "Not Good",
					Style:    discordgo.DangerButton,
					CustomID: BuildCustomID(ChoiceNotGood, recordID),
					Disabled: disabled,
				},
			},
		},
	}
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return "unknown"
}
