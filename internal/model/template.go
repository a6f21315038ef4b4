// internal/model/template.go
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Step is one timed action of a template. Delay is measured from the
// previous step; the first step always fires immediately.
type Step struct {
	Delay      time.Duration `json:"delay"`
	Channel    Channel       `json:"channel"`
	TemplateID string        `json:"template_id"`
	Subject    string        `json:"subject,omitempty"`
	Content    string        `json:"content"`
	DataKeys   []string      `json:"data_keys,omitempty"`
}

type Template struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Version     string `json:"version"`
	Steps       []Step `json:"steps"`
}

// Fingerprint derives a short content hash used as the template version.
func Fingerprint(steps []Step) string {
	b, _ := json.Marshal(steps)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:6])
}
