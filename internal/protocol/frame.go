package protocol

import "encoding/json"

// FrameType discriminates decoded wire frames.
type FrameType string

const (
	FrameText         FrameType = "text"
	FrameCards        FrameType = "cards"
	FrameShowcaseCard FrameType = "showcase_card"
	FrameCTAButtons   FrameType = "cta_buttons"
	FrameDone         FrameType = "done"
)

// Frame is one decoded unit of a chunked response: a text delta, a
// structured attachment passed through opaquely, or the completion
// signal.
type Frame struct {
	Type FrameType
	// Text is set for FrameText frames.
	Text string
	// Raw holds the full payload of a structured frame. The core never
	// looks inside it.
	Raw json.RawMessage
}

func textFrame(s string) Frame {
	return Frame{Type: FrameText, Text: s}
}

func doneFrame() Frame {
	return Frame{Type: FrameDone}
}
