package messaging

import "strings"

const fence = "```"

// SplitText breaks text into chunks of at most maxLen runes (platform
// message-length limit), preferring to break on a newline or space near the
// end of the window, and keeps triple-backtick code fences balanced across
// chunk boundaries: if a chunk would end with an odd number of fence lines,
// the chunk is closed with a fence and the next chunk is reopened with one,
// matching the body's last open language tag.
//
// An enclosing code fence that wraps the entire input (the whole body is one
// fenced block) is stripped before splitting, since re-wrapping each chunk
// individually already reconstructs the fences a reader needs.
func SplitText(text string, maxLen int) []string {
	text = stripOuterFence(text)
	if maxLen <= 0 {
		maxLen = 1900
	}
	if len([]rune(text)) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	openLang := ""

	for len(remaining) > 0 {
		prefix := ""
		if openLang != "" {
			prefix = fence + openLang + "\n"
		}

		// Reserve room for the reopening prefix and a possible closing fence
		// so the emitted chunk stays within maxLen.
		limit := maxLen - len([]rune(prefix)) - len("\n"+fence)
		if limit < 1 {
			limit = 1
		}
		if limit > len(remaining) {
			limit = len(remaining)
		}
		splitAt := limit
		window := string(remaining[:limit])
		if limit == len(remaining) {
			splitAt = limit
		} else if idx := strings.LastIndex(window, "\n"); idx > limit/2 {
			splitAt = idx + 1
		} else if idx := strings.LastIndex(window, " "); idx > limit/2 {
			splitAt = idx + 1
		}

		chunk := strings.TrimRight(string(remaining[:splitAt]), " \n")
		remaining = remaining[splitAt:]

		fenceCount := strings.Count(prefix+chunk, fence)
		closing := ""
		nextLang := openLang
		if (fenceCount % 2) == 1 {
			// An odd number of fence markers means this chunk leaves a
			// fence open; close it here and reopen on the next chunk with
			// the same language tag it was opened with.
			closing = "\n" + fence
			nextLang = lastOpenedLang(prefix + chunk)
		} else if openLang != "" && fenceCount == 0 {
			// Still inside a fence opened in a prior chunk with no new
			// fence markers in this one.
			nextLang = openLang
		} else {
			nextLang = ""
		}

		chunks = append(chunks, prefix+chunk+closing)
		openLang = nextLang
	}

	return chunks
}

// stripOuterFence removes a single pair of fences wrapping the entire body.
func stripOuterFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, fence) || !strings.HasSuffix(trimmed, fence) {
		return text
	}
	body := trimmed[len(fence):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		// Don't strip if the inner content contains any fence of its own:
		// the body is then several blocks rather than one single block.
		inner := body[idx+1 : len(body)-len(fence)]
		if strings.Count(inner, fence) != 0 {
			return text
		}
		return strings.TrimSuffix(inner, "\n")
	}
	return text
}

// lastOpenedLang returns the language tag of the most recently opened,
// still-unclosed fence in s.
func lastOpenedLang(s string) string {
	idx := strings.LastIndex(s, fence)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		return strings.TrimSpace(rest[:nl])
	}
	return ""
}
