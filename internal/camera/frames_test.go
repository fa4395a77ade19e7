// SPDX-License-Identifier: MIT

package camera

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFrame builds a well-formed JPEG span of exactly n bytes. The filler
// is zeros, so no accidental markers appear inside.
func testFrame(t *testing.T, n int) []byte {
	t.Helper()
	require.GreaterOrEqual(t, n, 4)
	b := make([]byte, n)
	copy(b, jpegStart)
	copy(b[n-2:], jpegEnd)
	return b
}

func TestExtractTwoFramesWithLeadingNoise(t *testing.T) {
	f1 := testFrame(t, 120)
	f2 := testFrame(t, 110)
	buf := append([]byte{0x00, 0x13, 0x37}, f1...)
	buf = append(buf, f2...)

	frames, rest := extractFrames(buf)

	require.Len(t, frames, 2)
	assert.Equal(t, f1, frames[0])
	assert.Equal(t, f2, frames[1])
	assert.Empty(t, rest, "buffer must be fully drained")
}

func TestExtractKeepsPartialFrame(t *testing.T) {
	f := testFrame(t, 200)
	head, tail := f[:150], f[150:]

	frames, rest := extractFrames(append(testFrame(t, 120), head...))
	require.Len(t, frames, 1)
	require.Equal(t, head, rest)

	frames, rest = extractFrames(append(rest, tail...))
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0])
	assert.Empty(t, rest)
}

func TestExtractDropsShortSpans(t *testing.T) {
	short := testFrame(t, 20) // complete but below the noise threshold
	buf := append(short, testFrame(t, 150)...)

	frames, rest := extractFrames(buf)

	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 150)
	assert.Empty(t, rest)
}

func TestExtractNoiseOnly(t *testing.T) {
	frames, rest := extractFrames([]byte{0x01, 0x02, 0x03, 0x04})
	assert.Empty(t, frames)
	assert.Empty(t, rest)
}

func TestExtractKeepsTrailingMarkerByte(t *testing.T) {
	frames, rest := extractFrames([]byte{0x01, 0x02, 0xFF})
	assert.Empty(t, frames)
	assert.Equal(t, []byte{0xFF}, rest, "a trailing 0xFF may start the next marker")
}

func TestExtractFramesAreCopies(t *testing.T) {
	buf := testFrame(t, 120)
	frames, _ := extractFrames(buf)
	require.Len(t, frames, 1)

	buf[10] = 0xAB
	assert.Zero(t, frames[0][10], "frames must not alias the receive buffer")
}

func TestExtractEmptyBuffer(t *testing.T) {
	frames, rest := extractFrames(nil)
	assert.Empty(t, frames)
	assert.Empty(t, rest)
}

func TestAuthPacketLayout(t *testing.T) {
	pkt := authPacket("9f8e7d6c")

	require.Len(t, pkt, 80)
	assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x00}, pkt[0:4])
	assert.Equal(t, []byte{0x00, 0x30, 0x00, 0x00}, pkt[4:8])
	assert.Equal(t, bytes.Repeat([]byte{0x00}, 8), pkt[8:16])
	assert.Equal(t, []byte("bblp"), pkt[16:20])
	assert.Equal(t, []byte("9f8e7d6c"), pkt[48:56])
	assert.Equal(t, bytes.Repeat([]byte{0x00}, 24), pkt[56:80], "secret is zero padded")
}
