package chat

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"time"

	"ykchat/internal/app/syncstore"
)

// MessageType is the closed tag distinguishing how a message payload is read.
type MessageType string

const (
	// TypeText is a plain text message.
	TypeText MessageType = "text"

	// TypeImage is an image message; its text is ImagePlaceholder.
	TypeImage MessageType = "image"
)

// ImagePlaceholder is the message text stored for image messages.
const ImagePlaceholder = "Image"

// Message is one chat message as seen by readers of a room.
type Message struct {
	ID           string      `json:"id"`
	Message      string      `json:"message"`
	SenderID     string      `json:"senderId"`
	SenderName   string      `json:"senderName"`
	Timestamp    time.Time   `json:"timestamp"`
	Type         MessageType `json:"type"`
	ImageURL     string      `json:"imageUrl,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	ImageWidth   int         `json:"imageWidth,omitempty"`
	ImageHeight  int         `json:"imageHeight,omitempty"`
}

// MessagesPath returns the store path holding the messages of roomID.
func MessagesPath(roomID string) string {
	return "chats/" + roomID + "/messages"
}

// messageRecord is the document appended to the store.
type messageRecord struct {
	Message      string                `json:"message"`
	SenderID     string                `json:"senderId"`
	SenderName   string                `json:"senderName"`
	Timestamp    syncstore.ServerValue `json:"timestamp"`
	Type         MessageType           `json:"type"`
	ImageURL     string                `json:"imageUrl,omitempty"`
	ThumbnailURL string                `json:"thumbnailUrl,omitempty"`
	ImageWidth   int                   `json:"imageWidth,omitempty"`
	ImageHeight  int                   `json:"imageHeight,omitempty"`
}

// decodeSnapshot converts every child of snap into a Message and sorts them by
// timestamp. Fields are read one by one: a field of the wrong JSON type reads
// as its zero value, and an entity without a usable timestamp gets now. Only
// children that are not JSON objects are skipped.
func decodeSnapshot(snap syncstore.Snapshot, now time.Time) ([]Message, int) {
	messages := make([]Message, 0, len(snap.Children))
	skipped := 0

	for _, child := range snap.Children {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(child.Value, &fields); err != nil || fields == nil {
			skipped++
			continue
		}

		msg := Message{
			ID:         child.Key,
			Message:    stringField(fields["message"]),
			SenderID:   stringField(fields["senderId"]),
			SenderName: stringField(fields["senderName"]),
			Timestamp:  parseTimestamp(fields["timestamp"], now),
			Type:       TypeText,
		}

		if MessageType(stringField(fields["type"])) == TypeImage {
			msg.Type = TypeImage
			msg.ImageURL = stringField(fields["imageUrl"])
			msg.ThumbnailURL = stringField(fields["thumbnailUrl"])
			msg.ImageWidth = intField(fields["imageWidth"])
			msg.ImageHeight = intField(fields["imageHeight"])
		}

		messages = append(messages, msg)
	}

	slices.SortStableFunc(messages, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return messages, skipped
}

// stringField returns raw as a string, or "" unless raw is a JSON string.
func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// intField returns raw as an int, or 0 unless raw is a JSON integer.
func intField(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// Timestamps must fall within the years 0001 to 9999 so messages keep
// encoding as RFC 3339.
const (
	minTimestampMillis = -62135596800000
	maxTimestampMillis = 253402300799999
)

// parseTimestamp accepts epoch milliseconds, as a number or a numeric string,
// and RFC 3339 strings. Anything else, or a value out of range, yields fallback.
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fallback
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			if ms < minTimestampMillis || ms > maxTimestampMillis {
				return fallback
			}
			return time.UnixMilli(ms)
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return fallback

	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || math.IsNaN(ms) || ms < minTimestampMillis || ms > maxTimestampMillis {
			return fallback
		}
		return time.UnixMilli(int64(ms))

	default:
		return fallback
	}
}
