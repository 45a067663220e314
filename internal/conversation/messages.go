package conversation

import (
	"fmt"
	"strings"

	"github.com/kalambet/whereismy/internal/catalog"
	"github.com/kalambet/whereismy/internal/storage"
)

// Menu commands. Each is accepted in any state and discards the current session.
const (
	CmdStart  = "/start"
	CmdCancel = "/cancel"
	CmdFound  = "🔍 Found"
	CmdLost   = "❓ Lost"
	CmdMyAds  = "📋 My ads"
	CmdPostAd = "➕ Post an ad"
	CmdBack   = "↩️ Back"
)

// Contact mode labels, accepted as text or through the contact_mode action.
const (
	LabelDrop    = "Left at…"
	LabelContact = "Contact me"
	LabelArchive = "⏹️ Close"
)

// Action id prefixes.
const (
	actionContactMode = "contact_mode:"
	actionArchive     = "archive:"
)

const maxDescriptionRunes = 100

const (
	msgWelcome = "🎓 *WhereIsMy* helps you find things lost on campus.\n\nChoose an action:"
	msgMenu    = "Choose an action:"
	msgCancel  = "Cancelled. Choose an action:"
	msgBusy    = "⏳ Still working on your previous message, please wait."

	msgFoundCategory = "What did you find?"
	msgLostCategory  = "What did you lose?"
	msgDescription   = "Describe the item (up to 100 characters). You can attach a photo."
	msgDescTooLong   = "No more than 100 characters, please. Try again."
	msgFoundLocation = "Where did you find it?"
	msgLostLocation  = "Where did you lose it?"
	msgPlaceDetail   = "Specify the place (optional):"
	msgContactMode   = "How will you hand the item over?"
	msgDropDetail    = "Where did you leave the item?"
	msgContactDetail = "How can people contact you?"
	msgPublished     = "✅ Your found-item ad is published!"

	msgNothingFound = "🔍 Nothing found.\nWould you like to post an ad?"
	msgResultsTail  = "Found your item? Contact the author of the ad."

	msgNoAds         = "📭 You have no active ads."
	msgArchived      = "✅ Ad closed."
	msgArchiveDenied = "❌ Could not close the ad (not your ad)."
	msgTemporary     = "⚠️ Temporary problem, please send that again."
	msgPublishFailed = "⚠️ Could not publish your ad, please try again."
	msgSearchFailed  = "⚠️ Search is unavailable right now, please try again."
	msgListFailed    = "⚠️ Could not load your ads, please try again later."
	msgArchiveFailed = "⚠️ Error. Please try again later."
)

const dateLayout = "02.01.2006"

// Reply is one outbound message. Options are reply-keyboard rows; Actions
// are inline buttons whose ID comes back as Input.Action.
type Reply struct {
	Text     string     `json:"text"`
	PhotoRef string     `json:"photo_ref,omitempty"`
	Options  [][]string `json:"options,omitempty"`
	Actions  []Action   `json:"actions,omitempty"`
}

// Action is an inline button.
type Action struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

func menuOptions() [][]string {
	return [][]string{{CmdFound, CmdLost}, {CmdMyAds}}
}

func menuReply(text string) Reply {
	return Reply{Text: text, Options: menuOptions()}
}

func skipOptions(cat *catalog.Catalog) [][]string {
	return [][]string{{cat.Skip}}
}

// rows lays labels out two per row.
func rows(labels []string) [][]string {
	var out [][]string
	for i := 0; i < len(labels); i += 2 {
		end := min(i+2, len(labels))
		out = append(out, append([]string(nil), labels[i:end]...))
	}
	return out
}

func contactModeActions() []Action {
	return []Action{
		{Label: LabelDrop, ID: actionContactMode + string(storage.ContactDrop)},
		{Label: LabelContact, ID: actionContactMode + string(storage.ContactDirect)},
	}
}

func archiveAction(id int64) []Action {
	return []Action{{Label: LabelArchive, ID: fmt.Sprintf("%s%d", actionArchive, id)}}
}

// FormatAd renders an ad the way it is shown to users and moderators.
func FormatAd(ad storage.Ad, cat *catalog.Catalog) string {
	status := "✅ ACTIVE"
	if ad.Status == storage.StatusArchived {
		status = "⏹ ARCHIVE"
	}
	emoji, verb := "🔍", "Found"
	if ad.Kind == storage.KindLost {
		emoji, verb = "❓", "Lost"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s: %s\n", status, emoji, verb, ad.Category)

	loc := ad.LocationKey
	if addr := cat.Address(ad.LocationKey); addr != "" {
		loc += " (" + addr + ")"
	}
	if ad.PlaceDetail != "" {
		loc += ", " + ad.PlaceDetail
	}
	fmt.Fprintf(&b, "📍 %s\n", loc)

	if ad.Description != "" {
		fmt.Fprintf(&b, "📝 %s\n", ad.Description)
	}
	if ad.ContactMode == storage.ContactDrop {
		fmt.Fprintf(&b, "📥 Left at: %s", ad.ContactInfo)
	} else {
		fmt.Fprintf(&b, "📞 Contact: %s", ad.ContactInfo)
	}
	if ad.Status == storage.StatusArchived {
		at := ad.ArchivedAt
		if at.IsZero() {
			at = ad.CreatedAt
		}
		fmt.Fprintf(&b, "\n⏹ Closed %s", at.Format(dateLayout))
	}
	return b.String()
}
