// Package fileexts holds the one fixed set of recognized file extensions
// the spec names in two places (§4.5 step 3's attachment MIME allowlist and
// §4.3/§8 property 8's file-path extraction): images, PDF, common office
// formats, and plain text.
package fileexts

import "strings"

var allowed = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true,
	".pdf": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".txt": true, ".md": true, ".csv": true, ".json": true, ".log": true,
}

// Allowed reports whether ext (case-insensitive, with or without leading dot)
// is in the recognized set.
func Allowed(ext string) bool {
	ext = strings.ToLower(ext)
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return allowed[ext]
}
