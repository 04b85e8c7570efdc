package script

import "strings"

// Narrator is assigned to stage directions, scene headings and any line that
// does not look like character dialogue.
const Narrator = "NARRATOR"

// maxCharacterNameLength bounds the heuristic: a colon further into the line
// is punctuation, not a speaker label.
const maxCharacterNameLength = 35

// Line is one parsed script entry.
type Line struct {
	Character string `json:"character"`
	Dialogue  string `json:"dialogue"`
}

// Parse splits raw script text into character/dialogue lines. A line whose
// prefix before the first colon is short and all-caps is treated as dialogue
// for that character; everything else becomes a narrator line.
func Parse(text string) []Line {
	var lines []Line

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if idx := strings.Index(line, ":"); idx > 0 && idx < maxCharacterNameLength {
			character := strings.TrimSpace(line[:idx])
			if character != "" && character == strings.ToUpper(character) {
				lines = append(lines, Line{
					Character: character,
					Dialogue:  strings.TrimSpace(line[idx+1:]),
				})
				continue
			}
		}

		lines = append(lines, Line{Character: Narrator, Dialogue: line})
	}

	return lines
}
