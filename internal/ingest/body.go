package ingest

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// ExtractBody returns the decoded plain-text body of msg. A single-part body
// wins; otherwise the MIME tree is walked depth-first in order and the first
// text/plain part with data is used. Malformed parts are logged and skipped.
func ExtractBody(msg *Message, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if msg.Payload.Data != "" {
		text, err := decodePart(msg.Payload)
		if err == nil {
			return text
		}
		logger.Warn("malformed message body", "id", msg.ID, "error", err)
	}
	text, _ := findPlainText(msg.ID, msg.Payload.Parts, logger)
	return text
}

func findPlainText(id string, parts []Part, logger *slog.Logger) (string, bool) {
	for _, p := range parts {
		if isPlainText(p.MimeType) && p.Data != "" {
			text, err := decodePart(p)
			if err != nil {
				logger.Warn("malformed mime part", "id", id, "mime_type", p.MimeType, "error", err)
				continue
			}
			return text, true
		}
		if len(p.Parts) > 0 {
			if text, ok := findPlainText(id, p.Parts, logger); ok {
				return text, true
			}
		}
	}
	return "", false
}

func isPlainText(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(mimeType), "text/plain")
	}
	return mt == "text/plain"
}

func decodePart(p Part) (string, error) {
	raw, err := DecodeData(p.Data)
	if err != nil {
		return "", err
	}
	if cs := partCharset(p); cs != "" {
		if text, err := transcode(raw, cs); err == nil {
			return text, nil
		}
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

// DecodeData decodes base64url transport data with or without padding.
func DecodeData(data string) ([]byte, error) {
	s := strings.TrimRight(strings.TrimSpace(data), "=")
	s = strings.NewReplacer("+", "-", "/", "_", "\r", "", "\n", "").Replace(s)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding base64url: %w", err)
	}
	return b, nil
}

// EncodeData is the inverse of DecodeData.
func EncodeData(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func partCharset(p Part) string {
	ct := p.Header("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	cs := strings.ToLower(params["charset"])
	switch cs {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return ""
	}
	return cs
}

func transcode(raw []byte, charset string) (string, error) {
	if utf8.Valid(raw) && !strings.HasPrefix(charset, "utf-16") {
		// Some providers already hand out UTF-8 despite the declared charset.
		return string(raw), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", charset, err)
	}
	return string(out), nil
}
