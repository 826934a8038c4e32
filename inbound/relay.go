// Package inbound extracts, resolves, and relays one incoming WhatsApp
// message to the control plane. It has no dependency on the session
// package: a session.Runner is constructed with an *inbound.Relay, not
// the other way around, keeping the dependency graph acyclic.
package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
	"wa-session-supervisor/metrics"
)

const (
	lidSuffix = "@lid"
	pnSuffix  = "@s.whatsapp.net"
	gSuffix   = "@g.us"

	// resolvedTTL bounds a real (non-duplicate, non-error) contact
	// resolution. The spec this package was built against gives the two
	// cooldowns explicit values but leaves a plain hit's lifetime
	// unstated; a day comfortably outlives one discovery/connection
	// cycle without growing unbounded.
	resolvedTTL = 24 * time.Hour
)

// Relay handles every events.Message for one session: identity-alias
// learning, content extraction, media download/upload, sender
// resolution, and the POST to /inbound.
type Relay struct {
	sessionID string
	mediaPath string

	edge    *edge.Client
	aliases *identity.Store
	cache   *ContactCache

	errorCooldown     time.Duration
	duplicateCooldown time.Duration

	log zerolog.Logger
}

// New builds a Relay for sessionID. mediaPath is accepted for parity
// with the spec's scratch-directory convention even though this
// implementation downloads straight to memory and never touches disk
// for inbound media.
func New(sessionID, mediaPath string, edgeClient *edge.Client, aliases *identity.Store, errorCooldown, duplicateCooldown time.Duration, log zerolog.Logger) *Relay {
	return &Relay{
		sessionID:         sessionID,
		mediaPath:         mediaPath,
		edge:              edgeClient,
		aliases:           aliases,
		cache:             NewContactCache(resolvedTTL, errorCooldown, duplicateCooldown),
		errorCooldown:     errorCooldown,
		duplicateCooldown: duplicateCooldown,
		log:               log.With().Str("component", "inbound").Str("session_id", sessionID).Logger(),
	}
}

// HandleMessage is the whatsmeow event handler body for *events.Message.
func (r *Relay) HandleMessage(ctx context.Context, client *whatsmeow.Client, evt *events.Message) {
	chatJID := evt.Info.Chat.String()
	if chatJID == "" {
		return
	}

	selfPN := ""
	if client.Store.ID != nil {
		selfPN = client.Store.ID.ToNonAD().String()
	}

	lid, pn := lidAndPNFromInfo(evt)
	if lid != "" && pn != "" {
		if changed, err := r.aliases.RememberPair(lid, pn); err != nil {
			r.log.Warn().Err(err).Msg("persist identity alias pair failed")
		} else if changed {
			r.log.Debug().Str("lid", lid).Str("pn", pn).Msg("learned identity alias pair")
		}
	}

	chatIDNorm := r.aliases.ResolveCanonical(chatJID, "")
	if chatIDNorm == "" {
		chatIDNorm = chatJID
	}
	isGroup := strings.HasSuffix(chatJID, gSuffix)

	senderJIDRaw := chatJID
	switch {
	case isGroup:
		senderJIDRaw = evt.Info.Sender.String()
	case evt.Info.IsFromMe:
		senderJIDRaw = selfPN
	}

	senderPN := extractSenderPN(evt)

	contactJID := senderPN
	if evt.Info.IsFromMe {
		contactJID = chatJID
	} else if contactJID == "" {
		contactJID = senderJIDRaw
	}

	content := extractContent(evt.Message)
	if content.body == "" && content.mediaType == "" {
		return
	}

	payload := edge.InboundPayload{
		InstanceID:   r.sessionID,
		From:         senderJIDRaw,
		To:           chatJID,
		Body:         content.body,
		WAMessageID:  evt.Info.ID,
		FromMe:       evt.Info.IsFromMe,
		ChatIDNorm:   chatIDNorm,
		SenderJIDRaw: senderJIDRaw,
	}
	if senderPN != "" {
		payload.SenderPN = &senderPN
	}
	if evt.Info.PushName != "" {
		payload.PushName = &evt.Info.PushName
	}

	if content.mediaType != "" {
		data, err := client.Download(ctx, content.media)
		if err != nil {
			r.log.Error().Err(err).Str("media_type", content.mediaType).Msg("media download failed")
			metrics.InboundProcessed.WithLabelValues("media_download_error").Inc()
			return
		}

		fileName := content.fileName
		if fileName == "" {
			fileName = fmt.Sprintf("%s-%s%s", content.mediaType, evt.Info.ID, inferExtension(content.mimeType, content.mediaType))
		}
		fileName = sanitizeFileName(fileName)

		mediaURL, err := r.edge.UploadMedia(ctx, r.sessionID, evt.Info.ID, content.mimeType, fileName, data)
		if err != nil {
			r.log.Error().Err(err).Msg("upload-media failed, skipping inbound post")
			metrics.InboundProcessed.WithLabelValues("upload_failed").Inc()
			return
		}

		size := int64(len(data))
		payload.MediaType = &content.mediaType
		payload.MediaURL = &mediaURL
		payload.MimeType = &content.mimeType
		payload.FileName = &fileName
		payload.FileSize = &size
	}

	if !evt.Info.IsFromMe && contactJID != "" {
		if contactID := r.resolveSenderContact(ctx, contactJID, evt.Info.PushName); contactID != "" {
			payload.SenderContactID = &contactID
		}
	}

	if err := r.edge.PostInbound(ctx, payload); err != nil {
		r.log.Error().Err(err).Str("wa_message_id", evt.Info.ID).Msg("post inbound failed")
		metrics.InboundProcessed.WithLabelValues("post_failed").Inc()
		return
	}
	metrics.InboundProcessed.WithLabelValues("ok").Inc()
}

// resolveSenderContact returns a non-empty contact id, or "" if the
// lookup is cached-null, cooling down, or failed.
func (r *Relay) resolveSenderContact(ctx context.Context, jid, pushName string) string {
	if contactID, isNull, ok := r.cache.Get(jid); ok {
		if isNull {
			return ""
		}
		return contactID
	}

	jidType := "pn"
	switch {
	case strings.HasSuffix(jid, lidSuffix):
		jidType = "lid"
	case strings.HasSuffix(jid, gSuffix):
		jidType = "group"
	}

	contactID, err := r.edge.ResolveContact(ctx, r.sessionID, jid, jidType, pushName)
	if err != nil {
		if edge.IsDuplicate(err) {
			r.cache.PutNull(jid, r.duplicateCooldown)
		} else {
			r.log.Warn().Err(err).Str("jid", jid).Msg("resolve contact failed")
			r.cache.PutNull(jid, r.errorCooldown)
		}
		return ""
	}

	r.cache.PutResolved(jid, contactID, resolvedTTL)
	return contactID
}

// lidAndPNFromInfo pulls the @lid/@pn pair out of a message's sender
// and its alternate identity, when whatsmeow has resolved both sides
// of the pseudonym for this event.
func lidAndPNFromInfo(evt *events.Message) (lid, pn string) {
	sender := evt.Info.Sender.String()
	alt := evt.Info.SenderAlt.String()
	switch {
	case strings.HasSuffix(sender, lidSuffix) && strings.HasSuffix(alt, pnSuffix):
		return sender, alt
	case strings.HasSuffix(sender, pnSuffix) && strings.HasSuffix(alt, lidSuffix):
		return alt, sender
	}

	recipient := evt.Info.Chat.String()
	recipientAlt := evt.Info.RecipientAlt.String()
	switch {
	case strings.HasSuffix(recipient, lidSuffix) && strings.HasSuffix(recipientAlt, pnSuffix):
		return recipient, recipientAlt
	case strings.HasSuffix(recipient, pnSuffix) && strings.HasSuffix(recipientAlt, lidSuffix):
		return recipientAlt, recipient
	}
	return "", ""
}

// extractSenderPN returns the sender's phone JID if whatsmeow already
// resolved one, preferring the direct sender field and falling back to
// its alternate identity.
func extractSenderPN(evt *events.Message) string {
	if s := evt.Info.Sender.String(); strings.HasSuffix(s, pnSuffix) {
		return s
	}
	if s := evt.Info.SenderAlt.String(); strings.HasSuffix(s, pnSuffix) {
		return s
	}
	return ""
}
