// Package status serves the detector state and latest annotated frame over a
// one-shot TCP exchange: the client sends Request, the server answers with a
// single JSON Response and closes the connection.
package status

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Request is the only command the server answers.
const Request = "get_frame_and_status"

const (
	maxRequestSize  = 1024
	maxResponseSize = 16 << 20
)

// Payload mirrors the sequencer status. LastSequence is null until the
// first confirmed sequence.
type Payload struct {
	SequenceDetected bool       `json:"sequence_detected"`
	SequenceCount    int        `json:"sequence_count"`
	LastSequence     *time.Time `json:"last_sequence"`
}

// Response is the full reply. Frame is the hex-encoded JPEG of the latest
// annotated frame, or empty when none is available yet.
type Response struct {
	Status Payload `json:"status"`
	Frame  string  `json:"frame"`
}

// JPEG decodes the frame. It returns nil without error when the response
// carries no frame.
func (r *Response) JPEG() ([]byte, error) {
	if r.Frame == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(r.Frame)
	if err != nil {
		return nil, fmt.Errorf("invalid frame encoding: %w", err)
	}
	return data, nil
}
