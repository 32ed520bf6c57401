package mesh

// FrameLimit is the single-frame payload limit. Payloads above it are split
// into an ordered chunk sequence: every chunk but the last is prefixed with
// ContinuationMarker and carries FrameLimit-1 payload bytes; the final (or
// only) chunk has no prefix and carries up to FrameLimit bytes.
const FrameLimit = 20

const ContinuationMarker = '+'

// SplitFrames chunks a payload for transmission. Payloads within the frame
// limit come back as a single frame.
func SplitFrames(payload []byte) [][]byte {
	if len(payload) <= FrameLimit {
		frame := make([]byte, len(payload))
		copy(frame, payload)
		return [][]byte{frame}
	}

	var frames [][]byte
	rest := payload
	for len(rest) > FrameLimit {
		frame := make([]byte, FrameLimit)
		frame[0] = ContinuationMarker
		copy(frame[1:], rest[:FrameLimit-1])
		frames = append(frames, frame)
		rest = rest[FrameLimit-1:]
	}

	final := make([]byte, len(rest))
	copy(final, rest)
	return append(frames, final)
}

// IsContinuation reports whether a frame carries the continuation marker.
func IsContinuation(frame []byte) bool {
	return len(frame) > 0 && frame[0] == ContinuationMarker
}
