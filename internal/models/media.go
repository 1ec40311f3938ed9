package models

// MediaKind is the shape of the media attached to a message, as reported by the client.
type MediaKind int

const (
	MediaNone     MediaKind = iota // no attachment
	MediaPhoto                     // compressed photo
	MediaVideo                     // video document
	MediaAudio                     // audio or voice document
	MediaDocument                  // any other document, classified by mime type
	MediaUnknown                   // attachment present but its metadata is unavailable
)

// String returns the lowercase kind name.
func (k MediaKind) String() string {
	switch k {
	case MediaNone:
		return "none"
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Media describes an attachment.
type Media struct {
	Kind     MediaKind
	MimeType string // set for documents
	FileName string // original file name if known
	Size     int64  // bytes, 0 if unknown
	Handle   any    // download location, opaque outside the client
}

// Present reports whether the message carries any attachment.
func (m Media) Present() bool {
	return m.Kind != MediaNone
}

// ContentType is the category of a Message Record.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
)
