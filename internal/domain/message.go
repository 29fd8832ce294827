package domain

import (
	"fmt"
	"time"
)

// SegmentType discriminates the content union. Only two variants exist;
// every consumer switches exhaustively on this tag.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image_url"
)

// ImageRef points at an externally hosted image. Detail is the caption or
// fidelity hint forwarded to the model ("low", "high", "auto", or a summary).
type ImageRef struct {
	URL    string
	Detail string
}

// Segment is one piece of message content: plain text or an image reference.
// Construct via Text or Image so an image segment can never exist without a URL.
type Segment struct {
	Type  SegmentType
	Text  string
	Image ImageRef
}

// Text creates a text segment.
func Text(s string) Segment {
	return Segment{Type: SegmentText, Text: s}
}

// Image creates an image segment. A missing URL is rejected at construction
// time rather than surfacing as a null somewhere down the pipeline.
func Image(url, detail string) (Segment, error) {
	if url == "" {
		return Segment{}, fmt.Errorf("image segment requires a url")
	}
	if detail == "" {
		detail = "low"
	}
	return Segment{Type: SegmentImage, Image: ImageRef{URL: url, Detail: detail}}, nil
}

// MergeWindow is the same-sender tolerance under which two consecutive
// messages are coalesced into a single history entry.
const MergeWindow = 180 * time.Second

// ChatMessage is one entry in a conversation's history. Time is unix seconds.
type ChatMessage struct {
	SenderName string
	SenderID   int64
	Time       int64
	Segments   []Segment
}

// Mergeable reports whether next can be folded into m: same sender, and the
// timestamps within the merge window of each other.
func (m ChatMessage) Mergeable(next ChatMessage) bool {
	if m.SenderID != next.SenderID {
		return false
	}
	delta := m.Time - next.Time
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(MergeWindow/time.Second)
}

// PlainText concatenates the text segments, ignoring images. Used for
// command parsing and mention scans.
func (m ChatMessage) PlainText() string {
	var out string
	for _, seg := range m.Segments {
		switch seg.Type {
		case SegmentText:
			out += seg.Text
		case SegmentImage:
		}
	}
	return out
}
