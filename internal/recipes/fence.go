package recipes

import "strings"

const fence = "```"

// StripCodeFence removes a markdown code fence the model may wrap its JSON in despite
// being told not to, e.g. "```json\n{...}\n```". Text without a leading fence is only
// trimmed of surrounding whitespace.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, fence) {
		return s
	}

	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the opening fence line along with any language tag.
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, fence)
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, fence)
	return strings.TrimSpace(s)
}
