// ABOUTME: Storage key construction for uploaded files
// ABOUTME: Session-scoped prefix, random 128-bit token, and sanitized original filename

package upload

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidSession is returned for a session id that cannot name a key segment.
var ErrInvalidSession = errors.New("invalid session id")

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var windowsDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"LPT1": true, "LPT2": true, "LPT3": true,
}

// SecureFilename reduces a client-supplied filename to a flat ASCII name that is
// safe to embed in a storage key. The result may be empty.
func SecureFilename(name string) string {
	decomposed := norm.NFKD.String(name)

	var ascii strings.Builder
	for _, r := range decomposed {
		if r < 0x80 {
			ascii.WriteRune(r)
		}
	}

	flat := strings.NewReplacer("/", " ", "\\", " ").Replace(ascii.String())
	joined := strings.Join(strings.Fields(flat), "_")
	cleaned := strings.Trim(unsafeFilenameChars.ReplaceAllString(joined, ""), "._")

	if cleaned != "" && windowsDeviceNames[strings.ToUpper(strings.Split(cleaned, ".")[0])] {
		cleaned = "_" + cleaned
	}
	return cleaned
}

// NewToken returns 32 lowercase hex characters of randomness.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BlobKey builds the storage key for an upload. The session id is path-escaped
// so distinct ids map to distinct prefixes and never add segments; an empty id
// gives an unscoped key.
func BlobKey(sessionID, filename string) (string, error) {
	return blobKey(sessionID, filename, NewToken())
}

func blobKey(sessionID, filename, token string) (string, error) {
	name := token + "_" + SecureFilename(filename)
	if sessionID == "" {
		return "uploads/" + name, nil
	}
	segment := url.PathEscape(sessionID)
	if segment == "." || segment == ".." {
		return "", ErrInvalidSession
	}
	return "sessions/" + segment + "/uploads/" + name, nil
}
