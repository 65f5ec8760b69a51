package poster

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

func TestCustomIDRoundTrip(t *testing.T) {
	recordID := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	for _, choice := range []Choice{ChoiceInteresting, ChoiceNotGood} {
		customID := BuildCustomID(choice, recordID)
		gotChoice, gotRecord, ok := ParseCustomID(customID)
		if !ok {
			t.Fatalf("ParseCustomID(%q) not recognized", customID)
		}
		if gotChoice != choice || gotRecord != recordID {
			t.Errorf("round trip %q = (%s, %s); want (%s, %s)",
				customID, gotChoice, gotRecord, choice, recordID)
		}
	}
}

func TestParseCustomIDRejectsForeignIDs(t *testing.T) {
	tests := []string{
		"",
		"feedback:submit",
		"triage:maybe:abc",
		"triage:interesting",
		"triage:interesting:",
		"other:interesting:abc",
	}

	for _, customID := range tests {
		if _, _, ok := ParseCustomID(customID); ok {
			t.Errorf("ParseCustomID(%q) accepted; want rejected", customID)
		}
	}
}

func TestChoiceState(t *testing.T) {
	if got := ChoiceInteresting.State(); got != types.StateInteresting {
		t.Errorf("ChoiceInteresting.State() = %q", got)
	}
	if got := ChoiceNotGood.State(); got != types.StateNotGood {
		t.Errorf("ChoiceNotGood.State() = %q", got)
	}
}

func TestBuildEmbed(t *testing.T) {
	price := 850.0
	surface := 68.0
	rooms := 3
	image := "https://img.leboncoin.fr/api/v1/photo/1.jpg"
	posted := time.Date(2026, time.February, 14, 8, 30, 0, 0, time.UTC)

	listing := &types.Listing{
		ExternalID: "leboncoin_1",
		City:       "Rennes",
		Title:      "Appartement T3 68 m²",
		Price:      &price,
		Surface:    &surface,
		Rooms:      &rooms,
		URL:        "https://www.leboncoin.fr/colocations/1.htm",
		ImageURL:   &image,
		PostedAt:   &posted,
		Source:     "leboncoin",
	}
	record := &types.TriageRecord{ID: "rec-uuid", ExternalID: "leboncoin_1"}

	embed := BuildEmbed(listing, record, colorPending)

	if embed.Color != colorPending {
		t.Errorf("color = %#x; want %#x", embed.Color, colorPending)
	}
	if embed.Title != listing.Title || embed.URL != listing.URL {
		t.Errorf("title/url not carried: %q %q", embed.Title, embed.URL)
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, "rec-uuid") ||
		!strings.Contains(embed.Footer.Text, "leboncoin") {
		t.Errorf("footer = %+v; want source and record id", embed.Footer)
	}
	if embed.Image == nil || embed.Image.URL != image {
		t.Errorf("image = %+v; want %q", embed.Image, image)
	}
	if len(embed.Fields) != 5 {
		t.Fatalf("field count = %d; want 5", len(embed.Fields))
	}
}

func TestBuildEmbedSparseListing(t *testing.T) {
	listing := &types.Listing{
		ExternalID: "leboncoin_2",
		City:       "Lyon",
		Title:      "Studio",
		URL:        "https://www.leboncoin.fr/colocations/2.htm",
		Source:     "leboncoin",
	}
	record := &types.TriageRecord{ID: "rec-2", ExternalID: "leboncoin_2"}

	embed := BuildEmbed(listing, record, colorNotGood)

	if embed.Image != nil {
		t.Error("sparse listing should have no image")
	}
	// Only the city field survives when optionals are missing.
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "Lyon" {
		t.Errorf("fields = %+v; want only the city", embed.Fields)
	}
}

func TestTriageButtons(t *testing.T) {
	components := triageButtons("rec-uuid", true)
	if len(components) != 1 {
		t.Fatalf("component rows = %d; want 1", len(components))
	}
	row, ok := components[0].(discordgo.ActionsRow)
	if !ok {
		t.Fatalf("component is %T; want ActionsRow", components[0])
	}
	if len(row.Components) != 2 {
		t.Fatalf("buttons = %d; want 2", len(row.Components))
	}
	for _, c := range row.Components {
		button, ok := c.(discordgo.Button)
		if !ok {
			t.Fatalf("row component is %T; want Button", c)
		}
		if !button.Disabled {
			t.Errorf("button %q not disabled", button.CustomID)
		}
		if _, recordID, ok := ParseCustomID(button.CustomID); !ok || recordID != "rec-uuid" {
			t.Errorf("button custom id %q does not parse back", button.CustomID)
		}
	}
}
