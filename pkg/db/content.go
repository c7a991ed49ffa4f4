package db

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// ImageBlockType is the block type used by the editor for embedded images.
const ImageBlockType = "image"

// Block is one typed unit of a document (paragraph, header, image, ...).
type Block struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsImage reports whether the block holds an image.
func (b Block) IsImage() bool {
	return b.Type == ImageBlockType
}

// Text returns the textual payload of the block (data.text), or "" when there is none.
func (b Block) Text() string {
	if len(b.Data) == 0 {
		return ""
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Data, &payload); err != nil {
		return ""
	}
	return payload.Text
}

// TextLength is the rune count of Text.
func (b Block) TextLength() int {
	return utf8.RuneCountInString(b.Text())
}

// Equal compares two blocks by value. Data is compared as decoded JSON, so key
// order and whitespace do not matter (JSONB does not keep either).
func (b Block) Equal(other Block) bool {
	if b.ID != other.ID || b.Type != other.Type {
		return false
	}
	left, lok := decodeData(b.Data)
	right, rok := decodeData(other.Data)
	if !lok || !rok {
		return bytes.Equal(compactJSON(b.Data), compactJSON(other.Data))
	}
	return reflect.DeepEqual(left, right)
}

func decodeData(raw json.RawMessage) (interface{}, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func compactJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// TextBlock builds a paragraph block holding text.
func TextBlock(id, text string) Block {
	data, _ := json.Marshal(map[string]string{"text": text})
	return Block{ID: id, Type: "paragraph", Data: data}
}

// ImageBlock builds an image block pointing at url.
func ImageBlock(id, url string) Block {
	data, _ := json.Marshal(map[string]interface{}{"file": map[string]string{"url": url}})
	return Block{ID: id, Type: ImageBlockType, Data: data}
}

// Content is a full document snapshot: an ordered sequence of blocks.
type Content struct {
	Time    int64   `json:"time,omitempty"`
	Blocks  []Block `json:"blocks"`
	Version string  `json:"version,omitempty"`
}

// NewContent builds a snapshot from blocks.
func NewContent(blocks ...Block) Content {
	return Content{Blocks: blocks}
}

// IsEmpty reports whether the snapshot holds no blocks.
func (c Content) IsEmpty() bool {
	return len(c.Blocks) == 0
}

// Len is the number of blocks.
func (c Content) Len() int {
	return len(c.Blocks)
}

// Equal compares block sequences; editor metadata (time, version) is ignored.
func (c Content) Equal(other Content) bool {
	if len(c.Blocks) != len(other.Blocks) {
		return false
	}
	for i := range c.Blocks {
		if !c.Blocks[i].Equal(other.Blocks[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so cached snapshots are never shared with callers.
func (c Content) Clone() Content {
	out := Content{Time: c.Time, Version: c.Version}
	if c.Blocks == nil {
		return out
	}
	out.Blocks = make([]Block, len(c.Blocks))
	for i, b := range c.Blocks {
		out.Blocks[i] = Block{ID: b.ID, Type: b.Type}
		if b.Data != nil {
			out.Blocks[i].Data = append(json.RawMessage(nil), b.Data...)
		}
	}
	return out
}

// MarshalJSON always emits a blocks array, never null.
func (c Content) MarshalJSON() ([]byte, error) {
	type plain Content
	p := plain(c)
	if p.Blocks == nil {
		p.Blocks = []Block{}
	}
	return json.Marshal(p)
}

// UnmarshalJSON accepts the editor document object, a bare block array,
// a plain string (one paragraph) or null (empty).
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch trimmed[0] {
	case '{':
		type plain Content
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		*c = Content(p)
	case '[':
		var blocks []Block
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		*c = Content{Blocks: blocks}
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = Content{}
		if text != "" {
			c.Blocks = []Block{TextBlock("", text)}
		}
	default:
		return fmt.Errorf("content must be an object, array, string or null")
	}
	return nil
}

// Value stores the snapshot as JSON text (JSONB column).
func (c Content) Value() (driver.Value, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan reads a JSON snapshot column.
func (c *Content) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = Content{}
		return nil
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Content", src)
	}
}
