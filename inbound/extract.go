package inbound

import (
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// extracted is what content extraction pulls out of one message, in
// the priority order the spec this package was built against lists:
// conversation, extended text, then the four media kinds. media is
// whatsmeow's own DownloadableMessage interface so it can be handed
// straight to Client.Download without an extra adapter.
type extracted struct {
	mediaType string // "", "image", "video", "audio", "document"
	body      string
	mimeType  string
	fileName  string
	media     whatsmeow.DownloadableMessage
}

// extractContent walks msg in priority order and returns the first
// thing it finds. Returns a zero extracted if nothing usable is
// present (e.g. a reaction or a poll update).
func extractContent(msg *waE2E.Message) extracted {
	if text := msg.GetConversation(); text != "" {
		return extracted{body: text}
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return extracted{body: ext.GetText()}
	}
	if img := msg.GetImageMessage(); img != nil {
		return extracted{mediaType: "image", body: img.GetCaption(), mimeType: img.GetMimetype(), media: img}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return extracted{mediaType: "video", body: vid.GetCaption(), mimeType: vid.GetMimetype(), media: vid}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return extracted{mediaType: "audio", mimeType: aud.GetMimetype(), media: aud}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return extracted{
			mediaType: "document",
			body:      doc.GetCaption(),
			mimeType:  doc.GetMimetype(),
			fileName:  doc.GetFileName(),
			media:     doc,
		}
	}
	return extracted{}
}

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

const maxFileNameLen = 120

// sanitizeFileName replaces anything outside the safe charset with an
// underscore and caps the result, mirroring the spec's
// `[^a-zA-Z0-9._-] -> _` / cap-120 rule for inbound media file names.
func sanitizeFileName(name string) string {
	name = unsafeFileNameChars.ReplaceAllString(name, "_")
	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}
	return name
}

var mimeExtensions = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/webp":       ".webp",
	"image/gif":        ".gif",
	"video/mp4":        ".mp4",
	"video/3gpp":       ".3gp",
	"audio/ogg":        ".ogg",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
}

var mediaTypeDefaultExtensions = map[string]string{
	"image":    ".jpg",
	"video":    ".mp4",
	"audio":    ".ogg",
	"document": ".bin",
}

// inferExtension tries the mime type first, then the media-type
// default, then a bare ".bin".
func inferExtension(mimeType, mediaType string) string {
	if mimeType != "" {
		base := strings.SplitN(mimeType, ";", 2)[0]
		if ext, ok := mimeExtensions[base]; ok {
			return ext
		}
	}
	if ext, ok := mediaTypeDefaultExtensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}
