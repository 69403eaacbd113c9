// Package wire defines the messages exchanged with a streaming client.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"slidestream/internal/tiling"
)

var ErrInvalidViewport = errors.New("invalid viewport request")

// ViewportRequest is a client's request to view rect at level.
type ViewportRequest struct {
	Level int
	Rect  tiling.Rect
}

type rawViewport struct {
	Type   string          `json:"type"`
	Level  json.RawMessage `json:"level"`
	X      json.RawMessage `json:"x"`
	Y      json.RawMessage `json:"y"`
	Width  json.RawMessage `json:"width"`
	Height json.RawMessage `json:"height"`
}

// ParseViewportRequest decodes a JSON viewport message. Every numeric field is
// required and must be an integer literal; level, width and height must not be
// negative. Failures wrap ErrInvalidViewport.
func ParseViewportRequest(data []byte) (ViewportRequest, error) {
	var raw rawViewport
	if err := json.Unmarshal(data, &raw); err != nil {
		return ViewportRequest{}, fmt.Errorf("%w: %v", ErrInvalidViewport, err)
	}
	if raw.Type != "" && raw.Type != "viewport" {
		return ViewportRequest{}, fmt.Errorf("%w: unexpected message type %q", ErrInvalidViewport, raw.Type)
	}

	var req ViewportRequest
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *int
	}{
		{"level", raw.Level, &req.Level},
		{"x", raw.X, &req.Rect.X},
		{"y", raw.Y, &req.Rect.Y},
		{"width", raw.Width, &req.Rect.Width},
		{"height", raw.Height, &req.Rect.Height},
	}
	for _, f := range fields {
		v, err := parseInt(f.raw)
		if err != nil {
			return ViewportRequest{}, fmt.Errorf("%w: %s: %v", ErrInvalidViewport, f.name, err)
		}
		*f.dst = v
	}

	if req.Level < 0 {
		return ViewportRequest{}, fmt.Errorf("%w: negative level %d", ErrInvalidViewport, req.Level)
	}
	if req.Rect.Width < 0 || req.Rect.Height < 0 {
		return ViewportRequest{}, fmt.Errorf("%w: negative size %dx%d", ErrInvalidViewport, req.Rect.Width, req.Rect.Height)
	}
	return req, nil
}

func parseInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	return v, nil
}
