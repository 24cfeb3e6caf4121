package protocol

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Context is the protocol envelope metadata carried by every message.
type Context struct {
	Domain        string          `json:"domain"`
	Action        string          `json:"action"`
	Version       string          `json:"version,omitempty"`
	BapID         string          `json:"bap_id,omitempty"`
	BapURI        string          `json:"bap_uri,omitempty"`
	BppID         string          `json:"bpp_id,omitempty"`
	BppURI        string          `json:"bpp_uri,omitempty"`
	TransactionID string          `json:"transaction_id"`
	MessageID     string          `json:"message_id"`
	Timestamp     string          `json:"timestamp"`
	TTL           string          `json:"ttl,omitempty"`
	Location      json.RawMessage `json:"location,omitempty"`
}

// callbackURL resolves where the on_<action> callback goes: the configured
// override endpoint if any, otherwise the origin of bap_uri. The second
// result is false when neither yields a usable URL.
func callbackURL(override, bapURI, action string) (string, bool) {
	path := "/on_" + action

	if override = strings.TrimSpace(override); override != "" {
		return strings.TrimRight(override, "/") + path, true
	}

	u, err := url.Parse(strings.TrimSpace(bapURI))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.Scheme + "://" + u.Host + path, true
}

// callbackContext derives the context of a callback from the request's. The
// original message id is kept so the counterparty can correlate.
func (e *Engine) callbackContext(in Context, action string) Context {
	out := in
	out.Action = "on_" + action
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	out.Timestamp = e.now().UTC().Format("2006-01-02T15:04:05.000Z")
	if e.cfg.BppID != "" {
		out.BppID = e.cfg.BppID
	}
	if e.cfg.BppURI != "" {
		out.BppURI = e.cfg.BppURI
	}
	if out.Domain == "" {
		out.Domain = e.cfg.Domain
	}
	return out
}

// toMap renders a context for merging into a template body.
func (c Context) toMap() map[string]any {
	raw, _ := json.Marshal(c)
	var m map[string]any
	json.Unmarshal(raw, &m)
	return m
}
