package session

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
)

// SendText sends a plain text message to dest, which must already be
// a normalized JID string (outbound.resolveDestination's job, not
// this package's). It satisfies the outbound package's Sender
// interface implicitly.
func (r *Runner) SendText(ctx context.Context, dest, body string) (string, error) {
	client, err := r.openClient()
	if err != nil {
		return "", err
	}

	jid, err := parseJID(dest)
	if err != nil {
		return "", err
	}

	resp, err := client.SendMessage(ctx, jid, buildTextMessage(body))
	if err != nil {
		r.observeSendError(err)
		return "", err
	}
	return resp.ID, nil
}

// SendMedia uploads data and sends the resulting message of kind to
// dest, with the send-by-type defaults (caption, mimetype, file name)
// already resolved by the caller.
func (r *Runner) SendMedia(ctx context.Context, dest string, kind MediaKind, data []byte, mimeType, caption, fileName string) (string, error) {
	client, err := r.openClient()
	if err != nil {
		return "", err
	}

	jid, err := parseJID(dest)
	if err != nil {
		return "", err
	}

	uploaded, err := client.Upload(ctx, data, mediaAppInfo(kind))
	if err != nil {
		r.observeSendError(err)
		return "", fmt.Errorf("upload media: %w", err)
	}

	msg := buildMediaMessage(kind, caption, mimeType, fileName, uploaded, data)
	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		r.observeSendError(err)
		return "", err
	}
	return resp.ID, nil
}

func (r *Runner) openClient() (*whatsmeow.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen || r.client == nil {
		return nil, fmt.Errorf("session %s: not open", r.sessionID)
	}
	return r.client, nil
}

// observeSendError feeds the Bad-MAC breaker from send-time errors,
// the second of the two signal sources described on RecordBadMacSignal.
func (r *Runner) observeSendError(err error) {
	if IsBadMacSignal(err) {
		r.RecordBadMacSignal()
	}
}
