package conversation

import "strings"

// TurnSeparator joins text fragments merged into one turn.
const TurnSeparator = "\n\n"

// Normalize folds consecutive same-role entries into single turns in one
// left-to-right pass. Entries with blank text are skipped. Image URLs are
// unioned in first-seen order. The output never reorders across roles.
func Normalize(entries []RawEntry) []Turn {
	var turns []Turn
	var cur *Turn

	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if cur != nil && cur.Role == e.Role {
			cur.Content += TurnSeparator + text
			cur.ImageURLs = appendUnique(cur.ImageURLs, e.ImageURLs...)
			continue
		}
		if cur != nil {
			turns = append(turns, *cur)
		}
		cur = &Turn{
			Role:        e.Role,
			Content:     text,
			Attachments: []Attachment{},
			ImageURLs:   appendUnique(nil, e.ImageURLs...),
		}
	}
	if cur != nil {
		turns = append(turns, *cur)
	}
	return turns
}

func appendUnique(dst []string, urls ...string) []string {
	for _, u := range urls {
		if u == "" || contains(dst, u) {
			continue
		}
		dst = append(dst, u)
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
