// SPDX-License-Identifier: MIT

package camera

import "bytes"

// minFrameSize separates real frames from marker noise: a start-to-end
// span must exceed this many bytes to count as an image.
const minFrameSize = 100

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// extractFrames scans the receive buffer for complete JPEG images. Bytes
// before a start marker are noise and dropped; spans up to minFrameSize are
// dropped too. Returned frames are copies; rest is the unconsumed tail
// (a partial frame, or a trailing 0xFF that may open the next marker).
func extractFrames(buf []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(buf, jpegStart)
		if start < 0 {
			if n := len(buf); n > 0 && buf[n-1] == 0xFF {
				return frames, buf[n-1:]
			}
			return frames, nil
		}
		buf = buf[start:]

		end := bytes.Index(buf[2:], jpegEnd)
		if end < 0 {
			return frames, buf
		}
		span := buf[:end+2+len(jpegEnd)]
		if len(span) > minFrameSize {
			frames = append(frames, append([]byte(nil), span...))
		}
		buf = buf[len(span):]
	}
}
