package llamacpp

import (
	"strings"
	"sync"
)

const logBufferCap = 200

// LogBuffer is a bounded FIFO of backend log lines. The load-retry chain
// inspects it to decide which metadata override to apply next.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - logBufferCap; over > 0 {
		b.lines = b.lines[over:]
	}
}

// LastLine returns the most recent non-blank line.
func (b *LogBuffer) LastLine() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(b.lines[i]); t != "" {
			return t
		}
	}
	return ""
}

func (b *LogBuffer) Contains(needle string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.lines) - 1; i >= 0; i-- {
		if strings.Contains(b.lines[i], needle) {
			return true
		}
	}
	return false
}

// LastContaining returns the most recent line containing needle, trimmed.
func (b *LogBuffer) LastContaining(needle string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.lines) - 1; i >= 0; i-- {
		if strings.Contains(b.lines[i], needle) {
			return strings.TrimSpace(b.lines[i])
		}
	}
	return ""
}
