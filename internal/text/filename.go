package text

import "regexp"

var (
	invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)
	repeatedUnderscores  = regexp.MustCompile(`_{2,}`)
)

// MaxFilename is the usual filesystem limit on one path element.
const MaxFilename = 256

// SanitizeFilename maps a title to a safe base name of at most maxLength bytes.
func SanitizeFilename(s string, maxLength int) string {
	s = invalidFilenameChars.ReplaceAllString(s, "_")
	s = repeatedUnderscores.ReplaceAllString(s, "_")
	if maxLength > 0 && len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" || s == "_" {
		s = "video"
	}
	return s
}

// OutputName builds "<sanitized title>.<ext>" within MaxFilename bytes.
func OutputName(title, ext string) string {
	return SanitizeFilename(title, MaxFilename-len(ext)-1) + "." + ext
}
