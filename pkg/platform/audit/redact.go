package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Redacted replaces secret values in parameters.
const Redacted = "[REDACTED]"

// secretKeyMarkers match anywhere in a normalized key (lowercase, no separators).
var secretKeyMarkers = []string{
	"password",
	"passwd",
	"passphrase",
	"secret",
	"token",
	"apikey",
	"credential",
	"privatekey",
	"authorization",
	"cookie",
	"sessionid",
}

// secretKeys match whole normalized keys only; as substrings they are too short.
var secretKeys = map[string]struct{}{
	"pin": {},
	"cvv": {},
	"otp": {},
}

var keySeparators = strings.NewReplacer("_", "", "-", "", ".", "", " ", "")

// IsSecretKey reports whether a field name looks like it carries a credential.
func IsSecretKey(key string) bool {
	k := keySeparators.Replace(strings.ToLower(key))
	if _, ok := secretKeys[k]; ok {
		return true
	}
	for _, m := range secretKeyMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

var nulRemover = strings.NewReplacer("\x00", "")

// CleanText makes s storable in a TEXT or JSONB column: invalid UTF-8 becomes
// U+FFFD and NUL bytes are dropped.
func CleanText(s string) string {
	if utf8.ValidString(s) && strings.IndexByte(s, 0) < 0 {
		return s
	}
	return nulRemover.Replace(strings.ToValidUTF8(s, string(utf8.RuneError)))
}

// CleanParameters applies CleanText to every key and string value of params,
// at any depth. Non-string scalars are kept as they are.
func CleanParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cleaned, _ := cleanStrings(params).(map[string]any)
	return cleaned
}

func cleanStrings(v any) any {
	switch t := v.(type) {
	case string:
		return CleanText(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[CleanText(k)] = cleanStrings(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cleanStrings(val)
		}
		return out
	default:
		return v
	}
}

// Normalize converts v to its JSON data model (maps, slices, strings, float64,
// bools, nil) so it can be redacted field by field and stored as JSON. Strings
// and keys are passed through CleanText. Values that cannot be serialized are
// replaced by a type marker.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable %T>", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprintf("<unserializable %T>", v)
	}
	return cleanStrings(out)
}

// Redact returns a copy of v with every value under a secret-looking key
// replaced by Redacted, at any depth. v is expected in Normalize form.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSecretKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// SanitizeValue is Normalize followed by Redact.
func SanitizeValue(v any) any {
	return Redact(Normalize(v))
}

const maxErrorDetails = 512

// SanitizeError reduces err to an operator-safe single line: the first line of
// the message, cleaned and truncated. Stack traces and multi-line driver detail
// are dropped.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := CleanText(err.Error())
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	if i := strings.Index(msg, "goroutine "); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "error"
	}
	if utf8.RuneCountInString(msg) > maxErrorDetails {
		runes := []rune(msg)
		msg = string(runes[:maxErrorDetails]) + "..."
	}
	return msg
}
