package broker

import "encoding/json"

// FrameMessage is the wire shape workers publish on frames/<stream-id> and
// the shape re-emitted, faithfully, to WebSocket subscribers (§4.4, §6.2,
// §6.3). VectorList is optional and left as raw JSON since its element
// shape is worker-version-dependent.
type FrameMessage struct {
	Type               string          `json:"type"`
	StreamID           string          `json:"stream_id"`
	Timestamp          int64           `json:"ts"`
	Width              int             `json:"w"`
	Height             int             `json:"h"`
	FPS                float64         `json:"fps"`
	VectorCount        int             `json:"vector_count"`
	AvgMagnitude       float64         `json:"avg_magnitude"`
	MaxMagnitude       float64         `json:"max_magnitude"`
	DirectionDegrees   float64         `json:"direction_degrees"`
	DirectionCoherence float64         `json:"direction_coherence"`
	FrameB64           string          `json:"frame_b64"`
	VectorList         json.RawMessage `json:"vector_list,omitempty"`
}
