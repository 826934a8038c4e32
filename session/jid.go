package session

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

// parseJID parses an already-normalized destination string (produced
// by the outbound package's resolveDestination) into a types.JID.
func parseJID(dest string) (types.JID, error) {
	jid, err := types.ParseJID(dest)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse jid %q: %w", dest, err)
	}
	return jid, nil
}

// mediaAppInfo maps this package's MediaKind onto the whatsmeow upload
// category it needs for Client.Upload.
func mediaAppInfo(kind MediaKind) whatsmeow.MediaType {
	switch kind {
	case MediaImage:
		return whatsmeow.MediaImage
	case MediaVideo:
		return whatsmeow.MediaVideo
	case MediaAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
