package edge

// Settings is the worker-wide configuration the control plane hands back.
type Settings struct {
	MaxActiveInstances *int `json:"max_active_instances"`
}

// EligibleInstance is one candidate session from /eligible-instances.
type EligibleInstance struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

type eligibleResponse struct {
	Instances []EligibleInstance `json:"instances"`
}

// QueuedMessage is one row from /queued-messages.
type QueuedMessage struct {
	ID        string  `json:"id"`
	To        string  `json:"to"`
	Body      *string `json:"body,omitempty"`
	MediaURL  *string `json:"media_url,omitempty"`
	MediaType *string `json:"media_type,omitempty"`
	MimeType  *string `json:"mime_type,omitempty"`
	FileName  *string `json:"file_name,omitempty"`
}

// InboundPayload is posted to /inbound for each relayed message.
type InboundPayload struct {
	InstanceID      string  `json:"instanceId"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Body            string  `json:"body"`
	WAMessageID     string  `json:"wa_message_id"`
	FromMe          bool    `json:"from_me"`
	ChatIDNorm      string  `json:"chat_id_norm"`
	SenderJIDRaw    string  `json:"sender_jid_raw"`
	SenderPN        *string `json:"sender_pn,omitempty"`
	SenderContactID *string `json:"sender_contact_id,omitempty"`
	PushName        *string `json:"push_name,omitempty"`
	MediaType       *string `json:"media_type,omitempty"`
	MediaURL        *string `json:"media_url,omitempty"`
	MimeType        *string `json:"mime_type,omitempty"`
	FileName        *string `json:"file_name,omitempty"`
	FileSize        *int64  `json:"file_size,omitempty"`
}

// LockResponse is returned by acquire/renew/release.
type LockResponse struct {
	Acquired      bool   `json:"acquired"`
	InstanceOwner string `json:"instance_owner"`
	LockToken     string `json:"lock_token"`
}

type lockRequest struct {
	InstanceID    string  `json:"instanceId"`
	InstanceOwner string  `json:"instance_owner"`
	TTLMs         int64   `json:"ttl_ms"`
	LockToken     *string `json:"lock_token,omitempty"`
}

type updateStatusRequest struct {
	InstanceID string  `json:"instanceId"`
	Status     string  `json:"status"`
	QRCode     *string `json:"qr_code,omitempty"`
}

type markSentRequest struct {
	MessageID   string      `json:"messageId"`
	WAMessageID string      `json:"wa_message_id"`
	SendDebug   interface{} `json:"send_debug"`
}

type markFailedRequest struct {
	MessageID string      `json:"messageId"`
	Error     string      `json:"error"`
	SendDebug interface{} `json:"send_debug"`
}

type resolveContactRequest struct {
	InstanceID string `json:"instanceId"`
	JID        string `json:"jid"`
	JIDType    string `json:"jid_type"`
	PushName   string `json:"push_name,omitempty"`
}

type resolveContactResponse struct {
	ContactID string `json:"contact_id"`
}

type primaryJIDResponse struct {
	JIDPN *string `json:"jid_pn"`
}

type uploadMediaRequest struct {
	InstanceID   string `json:"instanceId"`
	MessageID    string `json:"messageId"`
	MimeType     string `json:"mime_type"`
	FileName     string `json:"file_name"`
	BytesBase64  string `json:"bytes_base64"`
}

type uploadMediaResponse struct {
	MediaURL string `json:"media_url"`
}

type refreshSessionRequest struct {
	InstanceID string `json:"instanceId"`
	JID        string `json:"jid"`
	Trigger    string `json:"trigger"`
}
