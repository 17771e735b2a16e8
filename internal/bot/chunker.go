package bot

import (
	"strings"
	"unicode/utf8"
)

// messageLimit is Discord's maximum message length
const messageLimit = 2000

// splitMessage splits content into chunks of at most limit bytes, breaking
// on newlines where possible so formatting survives delivery. Mid-line
// splits never land inside a multi-byte rune.
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		// A single line longer than the limit is split mid-line
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
