package scanning

import "strings"

// cleanTranscript strips the markdown fences and chatter that vision
// models wrap around a transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
