package api

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// DataPacket is the single item carried from step to step within a run.
type DataPacket struct {
	// Type describes the producer, e.g. "rss_item" or "ai_response".
	Type string `json:"type"`

	// ItemID identifies the source item for per-step deduplication. Steps
	// that do not fetch leave it empty and it is carried forward.
	ItemID string `json:"item_id,omitempty"`

	Content  json.RawMessage   `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewPacket builds a packet whose content is v encoded as JSON.
func NewPacket(typ string, v any) (*DataPacket, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &DataPacket{Type: typ, Content: raw}, nil
}

// Get reads a gjson path from the packet content.
func (p *DataPacket) Get(path string) gjson.Result {
	if p == nil || len(p.Content) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(p.Content, path)
}

// Title returns the "title" field of the content, if any.
func (p *DataPacket) Title() string {
	return p.Get("title").String()
}

// Clone returns a copy that shares no mutable state with p.
func (p *DataPacket) Clone() *DataPacket {
	if p == nil {
		return nil
	}
	c := *p
	c.Content = append(json.RawMessage(nil), p.Content...)
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
