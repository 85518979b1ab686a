package shell

import (
	"regexp"
	"strings"
)

// lineBuffer is a bounded, line-granular byte buffer used as a live screen
// snapshot. Only whole lines are ever trimmed from the head.
type lineBuffer struct {
	lines   []string
	maxByte int
}

func newLineBuffer(maxByte int) *lineBuffer {
	if maxByte < minBufferBytes {
		maxByte = minBufferBytes
	}
	if maxByte > maxBufferBytes {
		maxByte = maxBufferBytes
	}
	return &lineBuffer{maxByte: maxByte}
}

const (
	minBufferBytes = 4 * 1024
	maxBufferBytes = 64 * 1024
)

// append adds text (which may contain multiple lines) to the buffer and
// trims whole lines from the head until the total size is back within
// maxByte.
func (b *lineBuffer) append(text string) {
	if text == "" {
		return
	}
	parts := strings.Split(text, "\n")
	if len(b.lines) > 0 {
		// Continue the previous partial line rather than starting a new one.
		b.lines[len(b.lines)-1] += parts[0]
		parts = parts[1:]
	}
	b.lines = append(b.lines, parts...)
	b.trim()
}

func (b *lineBuffer) size() int {
	total := 0
	for _, l := range b.lines {
		total += len(l) + 1
	}
	return total
}

func (b *lineBuffer) trim() {
	for b.size() > b.maxByte && len(b.lines) > 1 {
		b.lines = b.lines[1:]
	}
}

func (b *lineBuffer) snapshot() string {
	return stripANSI(strings.Join(b.lines, "\n"))
}

func (b *lineBuffer) clear() {
	b.lines = nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\].*?(\x07|\x1b\\)|\x1b[()][AB012]|\x1bc`)

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
