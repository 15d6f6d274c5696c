package protocol

import (
	"encoding/json"
	"strings"
)

// doneSentinel terminates a stream, matching the server-side close
// convention.
const doneSentinel = "[DONE]"

// Decode accumulates chunk onto the carryover buffer, parses every
// complete line and returns the decoded frames plus the new carryover.
// A trailing partial line is never parsed; it is carried to the next
// call, so arbitrary network fragmentation yields the same frame
// sequence as a single delivery.
func Decode(chunk, carry string) ([]Frame, string) {
	buf := carry + chunk

	var frames []Frame
	for {
		nl := strings.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		line := buf[:nl]
		buf = buf[nl+1:]

		if f, ok := decodeLine(line); ok {
			frames = append(frames, f)
		}
	}

	return frames, buf
}

// Flush drains a trailing partial line after EOF. The stream is over,
// so "incomplete" no longer applies.
func Flush(carry string) []Frame {
	if strings.TrimSpace(carry) == "" {
		return nil
	}
	if f, ok := decodeLine(carry); ok {
		return []Frame{f}
	}
	return nil
}

// decodeLine applies the per-line wire rules: comments, data: prefix
// stripping, the [DONE] sentinel, then payload decoding.
func decodeLine(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return Frame{}, false
	}

	// Heartbeats and comments carry no payload.
	if strings.HasPrefix(line, ":") {
		return Frame{}, false
	}

	payload := line
	if strings.HasPrefix(line, "data:") {
		payload = strings.TrimSpace(line[len("data:"):])
	}
	// No prefix means the fallback transport mode: the bare line is the
	// payload itself.

	if payload == doneSentinel {
		return doneFrame(), true
	}

	return decodePayload(payload)
}

// decodePayload tries the payload as JSON first; anything that fails to
// parse is kept verbatim as literal text so data is never dropped.
func decodePayload(payload string) (Frame, bool) {
	if payload == "" {
		return Frame{}, false
	}

	raw := []byte(payload)
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return textFrame(payload), true
	}

	if ft, ok := structuredType(obj); ok {
		return Frame{Type: ft, Raw: json.RawMessage(append([]byte(nil), raw...))}, true
	}

	text := ExtractText(raw, obj)
	if text == "" {
		// Valid JSON with nothing to show; emitting an empty text frame
		// would only trigger spurious re-renders downstream.
		return Frame{}, false
	}
	return textFrame(text), true
}

// structuredType reports whether the payload carries a structured-card
// discriminator. Structured frames bypass the text stream entirely.
func structuredType(obj map[string]interface{}) (FrameType, bool) {
	t, _ := obj["type"].(string)
	switch t {
	case "cards":
		return FrameCards, true
	case "showcase_card":
		return FrameShowcaseCard, true
	case "cta_buttons":
		return FrameCTAButtons, true
	}
	return "", false
}

// DecodeBuffered decodes a complete non-chunked body: either a JSON
// envelope whose "body" string contains SSE lines, a direct JSON object
// with a content field, or plain text. A completion frame is always
// appended so callers see the same event sequence as a live stream.
func DecodeBuffered(body []byte) []Frame {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return []Frame{doneFrame()}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
		// Buffered-SSE-in-JSON: unwrap once, then reuse the line rules.
		if inner, ok := obj["body"].(string); ok {
			frames, rest := Decode(inner, "")
			frames = append(frames, Flush(rest)...)
			return ensureDone(frames)
		}

		if f, ok := decodePayload(trimmed); ok {
			return ensureDone([]Frame{f})
		}
		return []Frame{doneFrame()}
	}

	// Not JSON: tolerate the whole body as literal text.
	return ensureDone([]Frame{textFrame(trimmed)})
}

func ensureDone(frames []Frame) []Frame {
	for _, f := range frames {
		if f.Type == FrameDone {
			return frames
		}
	}
	return append(frames, doneFrame())
}
