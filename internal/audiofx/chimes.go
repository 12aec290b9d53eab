package audiofx

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Chime is one selectable notification sound.
type Chime struct {
	// File is the file name inside the chime directory, e.g. "threetone.mp3".
	File string `json:"file"`
	// Label is the display name derived from the file stem, e.g. "Threetone".
	Label string `json:"label"`
}

// ListChimes scans dir for MP3 files and returns them sorted by label. The
// label is the title-cased file stem.
func ListChimes(dir string) ([]Chime, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("audiofx: list chimes: %w", err)
	}
	chimes := make([]Chime, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".mp3") {
			continue
		}
		stem := name[:len(name)-len(".mp3")]
		chimes = append(chimes, Chime{File: name, Label: titleCase(stem)})
	}
	sort.Slice(chimes, func(i, j int) bool { return chimes[i].Label < chimes[j].Label })
	return chimes, nil
}

// titleCase uppercases the first letter of every alphabetic run and
// lowercases the rest, so "three_tone" becomes "Three_Tone".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
		case isLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
