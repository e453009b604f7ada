package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ykchat/internal/app/syncstore"
)

func TestParseTimestamp(t *testing.T) {
	fallback := time.UnixMilli(42)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch millis", `1700000000123`, time.UnixMilli(1700000000123)},
		{"float millis", `1700000000123.0`, time.UnixMilli(1700000000123)},
		{"numeric string", `"1700000000123"`, time.UnixMilli(1700000000123)},
		{"rfc3339", `"2024-01-01T00:00:00Z"`, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339 with offset", `"2024-01-01T02:00:00+02:00"`, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"missing", ``, fallback},
		{"null", `null`, fallback},
		{"unresolved placeholder", `{".sv":"timestamp"}`, fallback},
		{"boolean", `true`, fallback},
		{"free text", `"yesterday"`, fallback},
		{"beyond int64", `1e300`, fallback},
		{"far negative", `-1e300`, fallback},
		{"past year 9999", `253402300800000`, fallback},
		{"string past year 9999", `"99999999999999999"`, fallback},
		{"last millisecond of 9999", `253402300799999`, time.UnixMilli(253402300799999)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(json.RawMessage(tt.raw), fallback)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestDecodeSnapshot(t *testing.T) {
	now := time.UnixMilli(5000)
	snap := syncstore.Snapshot{Children: []syncstore.Child{
		{Key: "img", Value: []byte(`{"message":"Image","type":"image","imageUrl":"http://x/a.png","imageWidth":3,"imageHeight":2,"timestamp":3000}`)},
		{Key: "txt", Value: []byte(`{"message":"hi","type":"text","imageUrl":"http://x/ignored.png","timestamp":1000}`)},
		{Key: "odd", Value: []byte(`{"message":"?","type":"sticker","timestamp":2000}`)},
		{Key: "broken", Value: []byte(`[1,2,3]`)},
	}}

	messages, skipped := decodeSnapshot(snap, now)

	assert.Equal(t, 1, skipped)
	require.Len(t, messages, 3)

	assert.Equal(t, "txt", messages[0].ID)
	assert.Empty(t, messages[0].ImageURL)

	assert.Equal(t, "odd", messages[1].ID)
	assert.Equal(t, TypeText, messages[1].Type)

	assert.Equal(t, "img", messages[2].ID)
	assert.Equal(t, TypeImage, messages[2].Type)
	assert.Equal(t, "http://x/a.png", messages[2].ImageURL)
	assert.Equal(t, 3, messages[2].ImageWidth)
}

func TestDecodeSnapshot_MistypedFieldsKeepEntity(t *testing.T) {
	now := time.UnixMilli(9000)
	snap := syncstore.Snapshot{Children: []syncstore.Child{
		{Key: "a", Value: []byte(`{"message":"hi","senderId":42,"senderName":"Alice","type":"text","timestamp":1000}`)},
		{Key: "b", Value: []byte(`{"message":"Image","senderId":"u2","type":"image","imageUrl":"http://x/b.png","imageWidth":"640","imageHeight":480,"timestamp":2000}`)},
		{Key: "c", Value: []byte(`{"message":["not","text"],"senderId":"u3","type":7,"timestamp":"soon"}`)},
		{Key: "d", Value: []byte(`null`)},
		{Key: "e", Value: []byte(`"just a string"`)},
	}}

	messages, skipped := decodeSnapshot(snap, now)

	assert.Equal(t, 2, skipped)
	require.Len(t, messages, 3)

	assert.Equal(t, "a", messages[0].ID)
	assert.Equal(t, "hi", messages[0].Message)
	assert.Empty(t, messages[0].SenderID)
	assert.Equal(t, "Alice", messages[0].SenderName)

	assert.Equal(t, "b", messages[1].ID)
	assert.Equal(t, TypeImage, messages[1].Type)
	assert.Equal(t, "http://x/b.png", messages[1].ImageURL)
	assert.Zero(t, messages[1].ImageWidth)
	assert.Equal(t, 480, messages[1].ImageHeight)

	assert.Equal(t, "c", messages[2].ID)
	assert.Empty(t, messages[2].Message)
	assert.Equal(t, "u3", messages[2].SenderID)
	assert.Equal(t, TypeText, messages[2].Type)
	assert.True(t, now.Equal(messages[2].Timestamp))
}

func TestMessageRecordEncodesServerTimestamp(t *testing.T) {
	raw, err := json.Marshal(messageRecord{Message: "hi", Timestamp: syncstore.ServerTimestamp, Type: TypeText})
	require.NoError(t, err)

	assert.JSONEq(t, `{"message":"hi","senderId":"","senderName":"","timestamp":{".sv":"timestamp"},"type":"text"}`, string(raw))
}
