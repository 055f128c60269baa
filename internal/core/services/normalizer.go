package services

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseClass tags what an external endpoint's response turned out to be.
type ResponseClass string

const (
	// ClassBinaryAudio: the response headers already declared audio.
	ClassBinaryAudio ResponseClass = "binary-audio"
	// ClassEmbeddedAudio: audio found inside a JSON body (base64 or data URI).
	ClassEmbeddedAudio ResponseClass = "json-embedded-audio"
	// ClassPlainText: everything else; the raw body text is the payload.
	ClassPlainText ResponseClass = "plain-text"
)

// NormalizedResponse is the canonical shape every response is mapped into.
type NormalizedResponse struct {
	Class    ResponseClass
	MimeType string
	Audio    []byte // set for audio classes
	Text     string // set for plain-text
}

// Alias lists for audio payloads embedded in JSON. Order matters: the first
// field present with a usable value wins. These are a contract with the
// automation backends we cannot control.
var (
	audioFieldAliases = []string{
		"audioBase64", "audio_b64", "audio_base64", "audio", "data", "responseBinaryBase64",
	}
	mimeFieldAliases = []string{"mimeType", "contentType", "responseType"}
)

var dataURIPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

const fallbackAudioMime = "audio/mpeg"

// Normalize classifies an external response by its content type and body.
// It is total: malformed input of any kind falls through to plain-text,
// never to an error.
func Normalize(contentType string, body []byte) NormalizedResponse {
	ct := strings.ToLower(strings.TrimSpace(contentType))

	if strings.HasPrefix(ct, "audio/") {
		return NormalizedResponse{Class: ClassBinaryAudio, MimeType: contentType, Audio: body}
	}
	if ct == "application/octet-stream" {
		// Unspecific binary is treated as mpeg audio.
		return NormalizedResponse{Class: ClassBinaryAudio, MimeType: fallbackAudioMime, Audio: body}
	}

	text := string(body)

	obj, ok := parseStructured(body)
	if !ok {
		return NormalizedResponse{Class: ClassPlainText, MimeType: contentType, Text: text}
	}

	candidate := firstStringField(obj, audioFieldAliases)
	if candidate == "" {
		// Structured, but nothing recognizable as audio: hand back the
		// original raw text, not a re-serialization.
		return NormalizedResponse{Class: ClassPlainText, MimeType: contentType, Text: text}
	}

	if m := dataURIPattern.FindStringSubmatch(candidate); m != nil {
		audio, err := decodeBase64(m[2])
		if err != nil {
			return NormalizedResponse{Class: ClassPlainText, MimeType: contentType, Text: text}
		}
		return NormalizedResponse{Class: ClassEmbeddedAudio, MimeType: m[1], Audio: audio}
	}

	audio, err := decodeBase64(candidate)
	if err != nil {
		return NormalizedResponse{Class: ClassPlainText, MimeType: contentType, Text: text}
	}

	mime := firstStringField(obj, mimeFieldAliases)
	if mime == "" {
		mime = fallbackAudioMime
	}
	return NormalizedResponse{Class: ClassEmbeddedAudio, MimeType: mime, Audio: audio}
}

// parseStructured attempts to read the body as a JSON object. It never
// errors; a false return means "not structured".
func parseStructured(body []byte) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

// firstStringField returns the value of the first alias present as a
// non-empty string.
func firstStringField(obj map[string]any, aliases []string) string {
	for _, key := range aliases {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
