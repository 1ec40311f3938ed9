package telegram

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-harvester/internal/models"
)

// extractPage converts a history response into a page, newest first.
func extractPage(history tg.MessagesMessagesClass, channel *models.ChannelTarget) *models.Page {
	var (
		msgs  []tg.MessageClass
		users []tg.UserClass
		chats []tg.ChatClass
	)

	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		msgs, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesMessagesSlice:
		msgs, users, chats = h.Messages, h.Users, h.Chats
	case *tg.MessagesMessages:
		msgs, users, chats = h.Messages, h.Users, h.Chats
	default:
		// not modified
		return &models.Page{}
	}

	names := senderNames(users, chats)
	page := &models.Page{Messages: make([]models.RawMessage, 0, len(msgs))}

	for _, msg := range msgs {
		id := msg.GetID()
		if id > 0 && (page.OldestID == 0 || id < page.OldestID) {
			page.OldestID = id
		}
		if m := parseMessage(msg, channel, names); m != nil {
			page.Messages = append(page.Messages, *m)
		}
	}

	return page
}

// parseMessage converts a single message. Service and empty messages return nil.
func parseMessage(msg tg.MessageClass, channel *models.ChannelTarget, names map[int64]string) *models.RawMessage {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	raw := &models.RawMessage{
		ID:    m.ID,
		Date:  time.Unix(int64(m.Date), 0).UTC(),
		Text:  m.Message,
		Media: mediaOf(m),
	}

	if v, ok := m.GetViews(); ok {
		raw.Views = &v
	}
	if f, ok := m.GetForwards(); ok {
		raw.Forwards = &f
	}

	raw.SenderID, raw.SenderName = senderOf(m, channel, names)
	return raw
}

// senderOf returns the author of a message. Channel posts without a
// from_id are attributed to the channel itself.
func senderOf(m *tg.Message, channel *models.ChannelTarget, names map[int64]string) (int64, *string) {
	var id int64

	if from, ok := m.GetFromID(); ok {
		switch p := from.(type) {
		case *tg.PeerUser:
			id = p.UserID
		case *tg.PeerChannel:
			id = p.ChannelID
		case *tg.PeerChat:
			id = p.ChatID
		}
	} else {
		id = channel.ID
	}

	if author, ok := m.GetPostAuthor(); ok && author != "" {
		return id, &author
	}
	if name, ok := names[id]; ok && name != "" {
		return id, &name
	}
	if id == channel.ID && channel.Title != "" {
		title := channel.Title
		return id, &title
	}
	return id, nil
}

func senderNames(users []tg.UserClass, chats []tg.ChatClass) map[int64]string {
	names := make(map[int64]string, len(users)+len(chats))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if name == "" {
			name = user.Username
		}
		names[user.ID] = name
	}
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Channel:
			names[ch.ID] = ch.Title
		case *tg.Chat:
			names[ch.ID] = ch.Title
		}
	}
	return names
}

// mediaOf maps the attachment to the media variant. Previews, polls,
// locations and similar inline content carry nothing to download and count as none.
func mediaOf(m *tg.Message) models.Media {
	media, ok := m.GetMedia()
	if !ok {
		return models.Media{Kind: models.MediaNone}
	}

	switch md := media.(type) {
	case *tg.MessageMediaPhoto:
		p, ok := md.GetPhoto()
		if !ok {
			return models.Media{Kind: models.MediaUnknown}
		}
		photo, ok := p.(*tg.Photo)
		if !ok {
			return models.Media{Kind: models.MediaUnknown}
		}
		thumb, size := largestPhotoSize(photo.Sizes)
		return models.Media{
			Kind:     models.MediaPhoto,
			MimeType: "image/jpeg",
			Size:     int64(size),
			Handle: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     thumb,
			},
		}

	case *tg.MessageMediaDocument:
		d, ok := md.GetDocument()
		if !ok {
			return models.Media{Kind: models.MediaUnknown}
		}
		doc, ok := d.(*tg.Document)
		if !ok {
			return models.Media{Kind: models.MediaUnknown}
		}
		return documentMedia(doc)

	case *tg.MessageMediaUnsupported:
		return models.Media{Kind: models.MediaUnknown}

	default:
		return models.Media{Kind: models.MediaNone}
	}
}

func documentMedia(doc *tg.Document) models.Media {
	out := models.Media{
		Kind:     models.MediaDocument,
		MimeType: doc.MimeType,
		Size:     doc.Size,
		Handle: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}

	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			out.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			out.Kind = models.MediaVideo
		case *tg.DocumentAttributeAudio:
			out.Kind = models.MediaAudio
		}
	}
	return out
}

// largestPhotoSize returns the thumb type with the biggest area and its byte size.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int) {
	var (
		best     string
		bestArea int
		bestSize int
	)
	for _, s := range sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			if area := ps.W * ps.H; area > bestArea {
				best, bestArea, bestSize = ps.Type, area, ps.Size
			}
		case *tg.PhotoSizeProgressive:
			if area := ps.W * ps.H; area > bestArea {
				size := 0
				if n := len(ps.Sizes); n > 0 {
					size = ps.Sizes[n-1]
				}
				best, bestArea, bestSize = ps.Type, area, size
			}
		}
	}
	if best == "" {
		best = "x"
	}
	return best, bestSize
}
