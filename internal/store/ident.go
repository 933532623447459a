package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// maxIDLen leaves room for the temp-file decoration inside a 255 byte name.
const maxIDLen = 200

var reservedChars = regexp.MustCompile(`[<>:"/\\|?*]+`)

// SanitizeID turns a free-form title or upload filename into an identifier.
func SanitizeID(name string) (string, error) {
	id := reservedChars.ReplaceAllString(name, "")
	id = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, id)
	id = strings.Trim(id, " .")
	if err := ValidateID(id); err != nil {
		return "", fmt.Errorf("sanitize %q: %w", name, err)
	}
	return id, nil
}

// ValidateID checks that id can be used verbatim as a file name in the store.
// Names beginning with a dot are reserved for in-progress writes.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > maxIDLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLen)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	case reservedChars.MatchString(id):
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidID, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidID, id)
		}
	}
	return nil
}
