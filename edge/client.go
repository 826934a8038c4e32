// Package edge is the typed HTTP client to the control plane: settings,
// eligibility, status, queue, mark-sent/failed, inbound, upload-media,
// contact resolve, and instance-lock acquire/renew/release. It mirrors
// the shape of the teacher's ai.Client (a small struct holding an HTTP
// client, a logger, and a timeout) generalized from an LLM API client to
// a REST proxy client — the domain changed, the shape of "typed client
// wrapping net/http with bearer auth and a deadline" did not.
package edge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/metrics"
)

// Client is stateless beyond its configuration: safe for concurrent use
// by every session's runner and the manager's discovery loop.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// New builds an edge Client against baseURL, authenticating with secret
// and bounding every request to timeout.
func New(baseURL, secret string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log.With().Str("component", "edge").Logger(),
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.EdgeRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			outcome = "error"
			return fmt.Errorf("edge: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		outcome = "error"
		return fmt.Errorf("edge: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "timeout"
		return fmt.Errorf("edge: %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "error"
		return fmt.Errorf("edge: %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
		return &StatusError{Op: op, Code: resp.StatusCode, Body: respBody}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		outcome = "error"
		return fmt.Errorf("edge: %s: decode response: %w", op, err)
	}
	return nil
}

// GetSettings fetches worker-wide settings. A null response or any
// error is reported to the caller, which falls back to the configured
// default; this is a transient-HTTP condition per the error policy, not
// a hard failure.
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := c.do(ctx, "get_settings", http.MethodGet, "/worker-settings", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListEligible returns the ordered list of candidate sessions.
func (c *Client) ListEligible(ctx context.Context, enabled bool, limit int, order string) ([]EligibleInstance, error) {
	path := fmt.Sprintf("/eligible-instances?enabled=%t&limit=%d&order=%s", enabled, limit, order)
	var resp eligibleResponse
	if err := c.do(ctx, "list_eligible", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// UpdateStatus posts the session's current status, optionally carrying
// a QR code data URL. Fire-and-forget: callers log failures and move on.
func (c *Client) UpdateStatus(ctx context.Context, instanceID, status string, qr *string) error {
	return c.do(ctx, "update_status", http.MethodPost, "/update-status", updateStatusRequest{
		InstanceID: instanceID,
		Status:     status,
		QRCode:     qr,
	}, nil)
}

// ListQueued returns the queued outbound messages for instanceID.
func (c *Client) ListQueued(ctx context.Context, instanceID string) ([]QueuedMessage, error) {
	path := "/queued-messages?instanceId=" + instanceID
	var out []QueuedMessage
	if err := c.do(ctx, "list_queued", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSent reports a successfully delivered outbound message.
func (c *Client) MarkSent(ctx context.Context, messageID, waMessageID string, sendDebug interface{}) error {
	return c.do(ctx, "mark_sent", http.MethodPost, "/mark-sent", markSentRequest{
		MessageID:   messageID,
		WAMessageID: waMessageID,
		SendDebug:   sendDebug,
	}, nil)
}

// MarkFailed reports a failed outbound message. Best-effort: a failure
// here is logged by the caller but never halts queue processing.
func (c *Client) MarkFailed(ctx context.Context, messageID, errText string, sendDebug interface{}) error {
	return c.do(ctx, "mark_failed", http.MethodPost, "/mark-failed", markFailedRequest{
		MessageID: messageID,
		Error:     errText,
		SendDebug: sendDebug,
	}, nil)
}

// PostInbound relays one inbound message to the control plane.
func (c *Client) PostInbound(ctx context.Context, payload InboundPayload) error {
	return c.do(ctx, "post_inbound", http.MethodPost, "/inbound", payload, nil)
}

// ResolveContact resolves (or creates) a contact for jid.
func (c *Client) ResolveContact(ctx context.Context, instanceID, jid, jidType, pushName string) (string, error) {
	var resp resolveContactResponse
	err := c.do(ctx, "resolve_contact", http.MethodPost, "/contacts/resolve", resolveContactRequest{
		InstanceID: instanceID,
		JID:        jid,
		JIDType:    jidType,
		PushName:   pushName,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ContactID, nil
}

// PrimaryJID resolves the phone JID behind an @lid pseudonym. ok is
// false when the control plane has no mapping yet.
func (c *Client) PrimaryJID(ctx context.Context, instanceID, jid string) (jidPN string, ok bool, err error) {
	path := fmt.Sprintf("/contacts/primary-jid?instanceId=%s&jid=%s", instanceID, jid)
	var resp primaryJIDResponse
	if err := c.do(ctx, "primary_jid", http.MethodGet, path, nil, &resp); err != nil {
		return "", false, err
	}
	if resp.JIDPN == nil || *resp.JIDPN == "" {
		return "", false, nil
	}
	return *resp.JIDPN, true, nil
}

// UploadMedia uploads media bytes, base64-encoded over JSON, and
// returns the resulting public URL.
func (c *Client) UploadMedia(ctx context.Context, instanceID, messageID, mimeType, fileName string, data []byte) (string, error) {
	var resp uploadMediaResponse
	err := c.do(ctx, "upload_media", http.MethodPost, "/upload-media", uploadMediaRequest{
		InstanceID:  instanceID,
		MessageID:   messageID,
		MimeType:    mimeType,
		FileName:    fileName,
		BytesBase64: base64.StdEncoding.EncodeToString(data),
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MediaURL, nil
}

// RefreshSession asks the control plane to refresh a session identified
// by trigger (e.g. "no_matching_sessions").
func (c *Client) RefreshSession(ctx context.Context, instanceID, jid, trigger string) error {
	return c.do(ctx, "refresh_session", http.MethodPost, "/sessions/refresh", refreshSessionRequest{
		InstanceID: instanceID,
		JID:        jid,
		Trigger:    trigger,
	}, nil)
}

// AcquireLock attempts to take exclusive ownership of instanceID.
func (c *Client) AcquireLock(ctx context.Context, instanceID, owner string, ttl time.Duration) (*LockResponse, error) {
	return c.lockOp(ctx, "acquire", instanceID, owner, ttl, nil)
}

// RenewLock extends an already-held lock.
func (c *Client) RenewLock(ctx context.Context, instanceID, owner string, ttl time.Duration, token string) (*LockResponse, error) {
	return c.lockOp(ctx, "renew", instanceID, owner, ttl, &token)
}

// ReleaseLock gives up a held lock.
func (c *Client) ReleaseLock(ctx context.Context, instanceID, owner string, token string) (*LockResponse, error) {
	return c.lockOp(ctx, "release", instanceID, owner, 0, &token)
}

func (c *Client) lockOp(ctx context.Context, op, instanceID, owner string, ttl time.Duration, token *string) (*LockResponse, error) {
	var resp LockResponse
	err := c.do(ctx, "lock_"+op, http.MethodPost, "/instance-lock/"+op, lockRequest{
		InstanceID:    instanceID,
		InstanceOwner: owner,
		TTLMs:         ttl.Milliseconds(),
		LockToken:     token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
