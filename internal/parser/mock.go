package parser

import "context"

// mockPNG is a tiny 1x1 red RGB PNG used as the placeholder render in mock
// mode. Raw binary of a valid minimal PNG file.
var mockPNG = []byte{
	0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
	0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53,
	0xde, 0x00, 0x00, 0x00, 0x0c, 'I', 'D', 'A',
	'T', 0x78, 0x9c, 0x63, 0xf8, 0x0f, 0x00, 0x00,
	0x01, 0x01, 0x00, 0x05, 0x18, 0xd8, 0x4e, 0x00,
	0x00, 0x00, 0x00, 'I', 'E', 'N', 'D', 0xae,
	0x42, 0x60, 0x82,
}

// Mock is a deterministic gateway for development and tests.
type Mock struct{}

// NewMock returns the deterministic gateway.
func NewMock() *Mock {
	return &Mock{}
}

// Parse returns fixed metrics regardless of input.
func (m *Mock) Parse(ctx context.Context, disk, path string) (Metrics, error) {
	return Metrics{
		WidthMM:           95.4,
		HeightMM:          82.1,
		StitchCount:       12450,
		ColorChanges:      5,
		JumpCount:         87,
		LongestJumpMM:     9.2,
		MinStitchLengthMM: 0.4,
		MaxStitchLengthMM: 12.0,
		AvgStitchLengthMM: 3.1,
	}, nil
}

// RenderPreview returns the placeholder PNG.
func (m *Mock) RenderPreview(ctx context.Context, disk, path string) ([]byte, error) {
	return clonePNG(), nil
}

// RenderDensity returns the placeholder PNG.
func (m *Mock) RenderDensity(ctx context.Context, disk, path string) ([]byte, error) {
	return clonePNG(), nil
}

// RenderJumps returns the placeholder PNG.
func (m *Mock) RenderJumps(ctx context.Context, disk, path string) ([]byte, error) {
	return clonePNG(), nil
}

func clonePNG() []byte {
	cp := make([]byte, len(mockPNG))
	copy(cp, mockPNG)
	return cp
}
