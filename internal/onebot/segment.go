package onebot

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Segment is one element of a rich message: text, mention, image, reply, etc.
// The wire shape is OneBot v11: {"type": "...", "data": {...}}.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Segment type constants.
const (
	SegText   = "text"
	SegAt     = "at"
	SegImage  = "image"
	SegReply  = "reply"
	SegRecord = "record"
	SegVideo  = "video"
	SegFace   = "face"
	SegPoke   = "poke"
)

func Text(s string) Segment {
	return Segment{Type: SegText, Data: map[string]string{"text": s}}
}

func At(userID int64) Segment {
	return Segment{Type: SegAt, Data: map[string]string{"qq": strconv.FormatInt(userID, 10)}}
}

// Image builds an image segment. file may be a local path, a file:// URI,
// an http(s) URL, or a base64 payload.
func Image(file string) Segment {
	return Segment{Type: SegImage, Data: map[string]string{"file": file}}
}

func Reply(messageID int32) Segment {
	return Segment{Type: SegReply, Data: map[string]string{"id": strconv.FormatInt(int64(messageID), 10)}}
}

// PlainText extracts and joins all text segments.
func PlainText(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Type == SegText {
			b.WriteString(s.Data["text"])
		}
	}
	return strings.TrimSpace(b.String())
}

// Mentions returns the user IDs of all at segments.
func Mentions(segs []Segment) []int64 {
	var ids []int64
	for _, s := range segs {
		if s.Type != SegAt {
			continue
		}
		if id, err := strconv.ParseInt(s.Data["qq"], 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// MentionsUser reports whether segs contain an at segment for userID.
func MentionsUser(segs []Segment, userID int64) bool {
	for _, id := range Mentions(segs) {
		if id == userID {
			return true
		}
	}
	return false
}

// ReplyTarget returns the referenced message ID of the first reply segment,
// or 0 when the message is not a reply.
func ReplyTarget(segs []Segment) int32 {
	for _, s := range segs {
		if s.Type == SegReply {
			if id, err := strconv.ParseInt(s.Data["id"], 10, 32); err == nil {
				return int32(id)
			}
		}
	}
	return 0
}

// ImageURLs returns the fetchable URL (or file ref) of every image segment.
func ImageURLs(segs []Segment) []string {
	var urls []string
	for _, s := range segs {
		if s.Type != SegImage {
			continue
		}
		if u := s.Data["url"]; u != "" {
			urls = append(urls, u)
		} else if f := s.Data["file"]; f != "" {
			urls = append(urls, f)
		}
	}
	return urls
}

// UnmarshalJSON accepts both the array form and the CQ-code string form of
// a message body. String bodies are wrapped into a single text segment;
// consumers that need mentions/replies should enable array mode upstream.
func (s *Segment) UnmarshalJSON(data []byte) error {
	type plain Segment
	var p plain
	if err := json.Unmarshal(data, &p); err == nil && p.Type != "" {
		*s = Segment(p)
		return nil
	}
	// Loose payloads (numbers in data values) — decode into any, stringify.
	var raw struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	s.Data = make(map[string]string, len(raw.Data))
	for k, v := range raw.Data {
		switch t := v.(type) {
		case string:
			s.Data[k] = t
		case float64:
			s.Data[k] = strconv.FormatInt(int64(t), 10)
		case bool:
			s.Data[k] = strconv.FormatBool(t)
		case nil:
			// skip
		default:
			b, _ := json.Marshal(t)
			s.Data[k] = string(b)
		}
	}
	return nil
}
