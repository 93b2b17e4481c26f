package telegram

import (
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harun/printdesk/pkg/conversation"
	"github.com/harun/printdesk/pkg/router"
)

// ToEvent converts an update into a router event. Updates without a message
// are skipped. Commands are replaced by their alias when one is registered.
func ToEvent(update tgbotapi.Update, selfID int64, commands *Commands) (router.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return router.Event{}, false
	}

	e := router.Event{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:      strconv.Itoa(msg.MessageID),
		FromSelf:       msg.From != nil && msg.From.ID == selfID,
		Text:           msg.Text,
		Timestamp:      time.Unix(int64(msg.Date), 0),
	}

	if commands != nil && msg.IsCommand() {
		if alias, ok := commands.Alias(msg.Command()); ok {
			e.Text = alias
		}
	}

	if a := attachmentOf(msg); a != nil {
		a.MessageID = e.MessageID
		e.Attachment = a
	}

	return e, true
}

// attachmentOf extracts the media of a message. Photos use the largest size.
func attachmentOf(msg *tgbotapi.Message) *conversation.Attachment {
	switch {
	case msg.Document != nil:
		return &conversation.Attachment{
			Media:    conversation.MediaDocument,
			MimeType: msg.Document.MimeType,
			FileName: msg.Document.FileName,
			FileID:   msg.Document.FileID,
			Size:     int64(msg.Document.FileSize),
		}
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return &conversation.Attachment{
			Media:    conversation.MediaImage,
			MimeType: "image/jpeg",
			FileID:   p.FileID,
			Size:     int64(p.FileSize),
		}
	case msg.Video != nil:
		return &conversation.Attachment{
			Media:    conversation.MediaVideo,
			MimeType: msg.Video.MimeType,
			FileID:   msg.Video.FileID,
		}
	case msg.Audio != nil:
		return &conversation.Attachment{
			Media:    conversation.MediaAudio,
			MimeType: msg.Audio.MimeType,
			FileID:   msg.Audio.FileID,
		}
	case msg.Voice != nil:
		return &conversation.Attachment{
			Media:    conversation.MediaAudio,
			MimeType: msg.Voice.MimeType,
			FileID:   msg.Voice.FileID,
		}
	case msg.Sticker != nil:
		return &conversation.Attachment{
			Media:  conversation.MediaSticker,
			FileID: msg.Sticker.FileID,
		}
	case msg.Animation != nil, msg.VideoNote != nil:
		return &conversation.Attachment{Media: conversation.MediaOther}
	}
	return nil
}
