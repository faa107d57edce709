// Package keytemplate parses object key templates and renders them in two passes:
// static and chunk metadata values first, per-attempt values last.
package keytemplate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Class tells at which stage a placeholder can be resolved.
type Class int

const (
	// Unknown placeholders are kept verbatim in the rendered key.
	Unknown Class = iota
	// Static placeholders are resolved once, when the sink is configured.
	Static
	// Metadata placeholders are resolved once per chunk.
	Metadata
	// Attempt placeholders are resolved on every collision resolution attempt.
	Attempt
)

func (c Class) String() string {
	switch c {
	case Static:
		return "static"
	case Metadata:
		return "metadata"
	case Attempt:
		return "attempt"
	default:
		return "unknown"
	}
}

// Placeholder names recognised in `%{name}` form.
const (
	Path          = "path"
	FileExtension = "file_extension"
	Hostname      = "hostname"
	TimeSlice     = "time_slice"
	Index         = "index"
	HexRandom     = "hex_random"
	UUIDFlush     = "uuid_flush"
)

// TagKey is the chunk key holding the record tag, usable as `${tag}` or `${tag[N]}`.
const TagKey = "tag"

var classes = map[string]Class{
	Path:          Static,
	FileExtension: Static,
	Hostname:      Static,
	TimeSlice:     Metadata,
	Index:         Attempt,
	HexRandom:     Attempt,
	UUIDFlush:     Attempt,
}

var removedPlaceholders = []string{"uuid", "uuid:random", "uuid:hostname", "uuid:timestamp"}

// ErrRemovedPlaceholder is returned by Parse for placeholders that used to be supported.
var ErrRemovedPlaceholder = errors.New("placeholder is removed")

// Values maps placeholder tokens (as returned by Token and ChunkKeyToken) to their values.
type Values map[string]string

// Token returns the `%{name}` form of a placeholder.
func Token(name string) string {
	return "%{" + name + "}"
}

// ChunkKeyToken returns the `${name}` form of a chunk key placeholder.
func ChunkKeyToken(name string) string {
	return "${" + name + "}"
}

type segment struct {
	text     string
	name     string
	chunkKey bool
	// value marks text that came from a substituted value; it is never reinterpreted.
	value bool
}

func (s segment) isPlaceholder() bool {
	return s.name != ""
}

func (s segment) token() string {
	if s.chunkKey {
		return ChunkKeyToken(s.name)
	}
	return Token(s.name)
}

func (s segment) class() Class {
	if s.chunkKey {
		return Metadata
	}
	return classes[s.name]
}

// Template is an immutable parsed key template.
type Template struct {
	raw      string
	segments []segment
}

// Parse tokenizes a key template. Unrecognised placeholders are accepted and later
// rendered verbatim; removed placeholders are rejected.
func Parse(raw string) (Template, error) {
	segments := tokenize(raw)
	for _, s := range segments {
		if !s.isPlaceholder() || s.chunkKey {
			continue
		}
		for _, removed := range removedPlaceholders {
			if s.name == removed {
				return Template{}, fmt.Errorf("%s placeholder in key format: %w", Token(removed), ErrRemovedPlaceholder)
			}
		}
	}
	return Template{raw: raw, segments: segments}, nil
}

func tokenize(raw string) []segment {
	var segments []segment
	var text strings.Builder

	flushText := func() {
		if text.Len() > 0 {
			segments = append(segments, segment{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(raw); {
		if i+1 < len(raw) && (raw[i] == '%' || raw[i] == '$') && raw[i+1] == '{' {
			end := strings.IndexByte(raw[i+2:], '}')
			if end > 0 {
				flushText()
				segments = append(segments, segment{
					name:     raw[i+2 : i+2+end],
					chunkKey: raw[i] == '$',
				})
				i += end + 3
				continue
			}
		}
		text.WriteByte(raw[i])
		i++
	}
	flushText()

	return segments
}

// String returns the template source.
func (t Template) String() string {
	return t.raw
}

// Placeholders lists the distinct unresolved placeholder tokens in order of appearance.
func (t Template) Placeholders() []string {
	var tokens []string
	seen := map[string]bool{}
	for _, s := range t.segments {
		if !s.isPlaceholder() || seen[s.token()] {
			continue
		}
		seen[s.token()] = true
		tokens = append(tokens, s.token())
	}
	return tokens
}

// Has reports whether the `%{name}` placeholder is still unresolved in the template.
func (t Template) Has(name string) bool {
	for _, s := range t.segments {
		if s.isPlaceholder() && !s.chunkKey && s.name == name {
			return true
		}
	}
	return false
}

// ClassOf returns the class of a placeholder token.
func ClassOf(token string) Class {
	for _, s := range tokenize(token) {
		if s.isPlaceholder() {
			return s.class()
		}
	}
	return Unknown
}

// HasAttemptPlaceholder reports whether rendering can differ between attempts.
func (t Template) HasAttemptPlaceholder() bool {
	for _, s := range t.segments {
		if s.isPlaceholder() && s.class() == Attempt {
			return true
		}
	}
	return false
}

// Expand is the first rendering pass. It substitutes static and metadata placeholders
// found in values and leaves attempt and unknown placeholders in place.
// Static values become template text, so time directives inside them (like a `%Y%m%d`
// path) are still rendered by FormatTime.
func (t Template) Expand(values Values) Template {
	out := Template{raw: t.raw, segments: make([]segment, 0, len(t.segments))}
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			out.segments = append(out.segments, s)
			continue
		}

		class := s.class()
		value, ok := values[s.token()]
		if !ok || (class != Static && class != Metadata) {
			out.segments = append(out.segments, s)
			continue
		}

		if class == Static {
			out.segments = append(out.segments, tokenize(value)...)
		} else {
			out.segments = append(out.segments, segment{text: value, value: true})
		}
	}
	return out
}

// ExpandChunkKeys substitutes `${tag}`, `${tag[N]}` and `${name}` placeholders from the
// chunk tag and variables. Keys without a value are kept verbatim.
func (t Template) ExpandChunkKeys(tag string, variables map[string]string) Template {
	values := Values{}
	for _, s := range t.segments {
		if !s.isPlaceholder() || !s.chunkKey {
			continue
		}
		if v, ok := chunkKeyValue(s.name, tag, variables); ok {
			values[s.token()] = v
		}
	}
	return t.Expand(values)
}

func chunkKeyValue(name, tag string, variables map[string]string) (string, bool) {
	if name == TagKey {
		if tag == "" {
			return "", false
		}
		return tag, true
	}

	if strings.HasPrefix(name, TagKey+"[") && strings.HasSuffix(name, "]") {
		var idx int
		if _, err := fmt.Sscanf(name, TagKey+"[%d]", &idx); err != nil {
			return "", false
		}
		parts := strings.Split(tag, ".")
		if idx < 0 {
			idx += len(parts)
		}
		if tag == "" || idx < 0 || idx >= len(parts) {
			return "", false
		}
		return parts[idx], true
	}

	v, ok := variables[name]
	return v, ok
}

// FormatTime renders strftime directives (like `%Y%m%d` or `%H%M`) in the template text.
// Substituted metadata values and unresolved placeholders are left untouched.
func (t Template) FormatTime(ts time.Time) Template {
	out := Template{raw: t.raw, segments: make([]segment, 0, len(t.segments))}
	for _, s := range t.segments {
		if s.isPlaceholder() || s.value || !strings.Contains(s.text, "%") {
			out.segments = append(out.segments, s)
			continue
		}
		out.segments = append(out.segments, segment{text: formatDirectives(s.text, ts), value: true})
	}
	return out
}

// directives holds the strftime conversions rendered from the chunk time key.
const directives = "aAbBcCdDeFgGhHIjklmMnpPrRsStTuUVwWxXyYzZ%"

func formatDirectives(text string, ts time.Time) string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] == '%' && i+1 < len(text) && strings.IndexByte(directives, text[i+1]) >= 0 {
			b.WriteString(strftime.Format(text[i:i+2], ts))
			i++
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

// Render is the second rendering pass. It substitutes attempt placeholders and returns
// the key; every placeholder without a value is written verbatim.
func (t Template) Render(values Values) string {
	var b strings.Builder
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			b.WriteString(s.text)
			continue
		}
		if value, ok := values[s.token()]; ok && s.class() == Attempt {
			b.WriteString(value)
			continue
		}
		b.WriteString(s.token())
	}
	return b.String()
}

// UnknownPlaceholders lists the `%{name}` placeholders that will be rendered verbatim.
func (t Template) UnknownPlaceholders() []string {
	var unknown []string
	for _, token := range t.Placeholders() {
		if ClassOf(token) == Unknown {
			unknown = append(unknown, token)
		}
	}
	sort.Strings(unknown)
	return unknown
}
