package hookserver

// payload wraps a loosely-typed hook body: a shallow map[string]interface{}
// with typed accessors for the fields §4.3 names explicitly, plus a
// bounded-depth recursive walker for agent payloads whose text lives
// somewhere else in the structure (§9: "dynamic-type event objects ...
// parsed leniently").
type payload map[string]interface{}

const maxWalkDepth = 10

func (p payload) str(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (p payload) has(key string) bool {
	_, ok := p[key]
	return ok
}

// recognizedText returns turnText, falling back to text, per §4.3's
// "turnText || text" rule, and if neither is a plain string, falls back to
// a depth-bounded search for the first string found under any key named
// "text", "turnText", or "content".
func (p payload) recognizedText() string {
	if t := p.str("turnText"); t != "" {
		return t
	}
	if t := p.str("text"); t != "" {
		return t
	}
	return walkForText(map[string]interface{}(p), 0)
}

// walkForText implements §9's bounded depth-10 recursive walker: it
// descends through nested maps and slices looking for a string value keyed
// "text", "turnText", or "content", stopping at maxWalkDepth so a
// maliciously or accidentally deep payload can't exhaust the stack.
func walkForText(v interface{}, depth int) string {
	if depth > maxWalkDepth {
		return ""
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for _, key := range []string{"text", "turnText", "content"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
		for _, nested := range t {
			if s := walkForText(nested, depth+1); s != "" {
				return s
			}
		}
	case []interface{}:
		for _, item := range t {
			if s := walkForText(item, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}
