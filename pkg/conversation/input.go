package conversation

import "strings"

// InputKind classifies an inbound message
type InputKind int

const (
	// KindUnsupported is any message without usable text or media
	KindUnsupported InputKind = iota
	// KindText is a plain text message
	KindText
	// KindAttachment is a message carrying media
	KindAttachment
)

func (k InputKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAttachment:
		return "attachment"
	default:
		return "unsupported"
	}
}

// MediaKind is the transport's classification of an attachment
type MediaKind string

const (
	MediaDocument MediaKind = "document"
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
	MediaOther    MediaKind = "other"
)

// Printable reports whether the media kind can be stored for printing
func (k MediaKind) Printable() bool {
	return k == MediaDocument || k == MediaImage
}

// Attachment describes inbound media. The bytes are fetched by the router
// only when the machine asks for them.
type Attachment struct {
	Media     MediaKind
	MimeType  string
	FileName  string
	MessageID string
	FileID    string
	Size      int64
}

// Input is a normalized inbound message
type Input struct {
	Kind       InputKind
	Text       string
	Attachment Attachment
}

// NewText builds a text input with normalized content
func NewText(text string) Input {
	return Input{Kind: KindText, Text: NormalizeText(text)}
}

// NewAttachment builds an attachment input
func NewAttachment(a Attachment) Input {
	return Input{Kind: KindAttachment, Attachment: a}
}

// NormalizeText lower-cases and trims text for matching
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// DisplayName returns the attachment's own name, or one synthesized from the
// message id and the mime subtype.
func (a Attachment) DisplayName() string {
	if name := strings.TrimSpace(a.FileName); name != "" {
		return name
	}

	id := a.MessageID
	if id == "" {
		id = "document"
	}
	return id + "." + mimeSubtype(a.MimeType)
}

func mimeSubtype(mime string) string {
	mime = strings.TrimSpace(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	_, sub, ok := strings.Cut(mime, "/")
	sub = strings.TrimSpace(sub)
	if !ok || sub == "" {
		return "bin"
	}
	return sub
}
