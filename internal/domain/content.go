package domain

// MediaKind names the media types a step may carry.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaDocument  MediaKind = "document"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaAudio, MediaVoice, MediaVideoNote, MediaDocument:
		return true
	default:
		return false
	}
}

// ContentItem is either a text message (Kind empty) or a media item.
type ContentItem struct {
	Kind      MediaKind
	Text      string
	Reference string
	Caption   string
}

// TextItem builds a text content item.
func TextItem(value string) ContentItem {
	return ContentItem{Text: value}
}

// MediaItem builds a media content item.
func MediaItem(kind MediaKind, reference, caption string) ContentItem {
	return ContentItem{Kind: kind, Reference: reference, Caption: caption}
}

// IsText reports whether the item is a text message.
func (c ContentItem) IsText() bool {
	return c.Kind == ""
}

// TypeName returns a short label used in logs.
func (c ContentItem) TypeName() string {
	if c.IsText() {
		return "text"
	}
	return string(c.Kind)
}

// Step is one published unit of the drip sequence.
type Step struct {
	Title       string
	Description string
	Content     []ContentItem
}
