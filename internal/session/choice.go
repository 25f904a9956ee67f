package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback payload prefixes, rendered into inline keyboards.
const (
	prefixMediaType    = "yt_type"
	prefixAudioQuality = "yt_audio"
	prefixVideoQuality = "yt_video"

	payloadSeparator = "|"
)

// ChoiceKind tags a decoded callback payload.
type ChoiceKind int

const (
	// SelectMediaType carries "mp3" (audio path) or "mp4" (video path).
	SelectMediaType ChoiceKind = iota

	// SelectAudioQuality carries "mp3" or "flac".
	SelectAudioQuality

	// SelectVideoQuality carries a resolution height.
	SelectVideoQuality
)

// Choice is a callback payload decoded and validated once at the chat
// boundary. Every payload carries the user id it was rendered for, since
// keyboards live in a shared chat and anyone can press them.
type Choice struct {
	Kind   ChoiceKind
	Value  string
	UserID int64
}

// Height returns the resolution for video-quality choices.
func (c Choice) Height() (int, error) {
	if c.Kind != SelectVideoQuality {
		return 0, fmt.Errorf("not a video quality choice")
	}
	h, err := strconv.Atoi(c.Value)
	if err != nil {
		return 0, fmt.Errorf("bad resolution %q: %w", c.Value, err)
	}
	return h, nil
}

// Encode renders the payload string placed in a keyboard button.
func (c Choice) Encode() string {
	var prefix string
	switch c.Kind {
	case SelectMediaType:
		prefix = prefixMediaType
	case SelectAudioQuality:
		prefix = prefixAudioQuality
	case SelectVideoQuality:
		prefix = prefixVideoQuality
	}
	return strings.Join([]string{prefix, c.Value, strconv.FormatInt(c.UserID, 10)}, payloadSeparator)
}

// ParseChoice decodes a callback payload. Unknown prefixes and malformed
// payloads are errors; dispatching on raw string prefixes stops here.
func ParseChoice(data string) (Choice, error) {
	parts := strings.Split(data, payloadSeparator)
	if len(parts) != 3 {
		return Choice{}, fmt.Errorf("malformed choice payload %q", data)
	}

	var kind ChoiceKind
	switch parts[0] {
	case prefixMediaType:
		kind = SelectMediaType
	case prefixAudioQuality:
		kind = SelectAudioQuality
	case prefixVideoQuality:
		kind = SelectVideoQuality
	default:
		return Choice{}, fmt.Errorf("unknown choice prefix %q", parts[0])
	}

	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Choice{}, fmt.Errorf("bad user id in choice payload %q: %w", data, err)
	}

	if parts[1] == "" {
		return Choice{}, fmt.Errorf("empty value in choice payload %q", data)
	}

	return Choice{Kind: kind, Value: parts[1], UserID: userID}, nil
}
