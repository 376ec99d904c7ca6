package decoy

import (
	"strings"
	"time"
)

// DefaultWatermarkTemplate is used when a document names no template.
const DefaultWatermarkTemplate = "CERBERUS-{{session_id}}"

// Watermark truncation bounds, in runes. They cap how much attacker-supplied
// text can reach a rendered document.
const (
	watermarkIDLen       = 8
	watermarkIPLen       = 15
	watermarkUsernameLen = 10
	watermarkPlaceholder = "anon"
	watermarkTimeLayout  = "20060102-150405"
)

// Document describes a fake asset that carries a per-session watermark.
type Document struct {
	Name              string `json:"name,omitempty"`
	WatermarkTemplate string `json:"watermarkTemplate,omitempty"`
}

// Watermark substitutes session details into doc's template. Supported
// placeholders: {{session_id}}, {{attacker_ip}}, {{username}}, {{timestamp}}.
func Watermark(s *Session, doc Document, at time.Time) string {
	tmpl := doc.WatermarkTemplate
	if tmpl == "" {
		tmpl = DefaultWatermarkTemplate
	}

	id, ip, user := "", "", ""
	if s != nil {
		id = s.ID
		ip = s.AttackerIP
		if s.Capture != nil {
			user = s.Capture.Username
		}
	}
	if id == "" {
		id = "unknown"
	}
	if ip == "" {
		ip = watermarkPlaceholder
	}
	if user == "" {
		user = watermarkPlaceholder
	}

	r := strings.NewReplacer(
		"{{session_id}}", truncate(id, watermarkIDLen),
		"{{attacker_ip}}", truncate(ip, watermarkIPLen),
		"{{username}}", truncate(user, watermarkUsernameLen),
		"{{timestamp}}", at.UTC().Format(watermarkTimeLayout),
	)
	return r.Replace(tmpl)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
