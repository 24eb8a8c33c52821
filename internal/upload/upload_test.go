// ABOUTME: Tests for upload validation and blob key naming
// ABOUTME: Covers the extension allow-list, filename sanitizing, and key layout

package upload

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedFile(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{"csv", "data.csv", true},
		{"xlsx", "report.xlsx", true},
		{"upper case", "DATA.CSV", true},
		{"mixed case", "Report.XlSx", true},
		{"bare extension", ".csv", true},
		{"txt", "report.txt", false},
		{"csvx", "data.csvx", false},
		{"xls", "old.xls", false},
		{"csv in middle", "data.csv.exe", false},
		{"no extension", "csv", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllowedFile(tt.filename))
		})
	}
}

func TestValidator_Check(t *testing.T) {
	v := NewValidator([]string{".CSV", " .json "})

	assert.NoError(t, v.Check("a.csv"))
	assert.NoError(t, v.Check("b.JSON"))
	assert.ErrorIs(t, v.Check("c.xlsx"), ErrInvalidType)
	assert.ErrorIs(t, v.Check(""), ErrNoFile)
	assert.Equal(t, []string{".csv", ".json"}, v.Extensions())
}

func TestNewValidator_EmptyUsesDefaults(t *testing.T) {
	v := NewValidator(nil)
	assert.Equal(t, DefaultExtensions, v.Extensions())
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{`..\windows\report.csv`, "windows_report.csv"},
		{"i contain cool \xfcml\xe4uts.txt", "i_contain_cool_mluts.txt"},
		{"i contain cool ümläuts.txt", "i_contain_cool_umlauts.txt"},
		{"data (final).csv", "data_final.csv"},
		{"   spaced   out.xlsx  ", "spaced_out.xlsx"},
		{"NUL.csv", "_NUL.csv"},
		{"__hidden.csv", "hidden.csv"},
		{"../", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecureFilename(tt.in))
		})
	}
}

func TestNewToken(t *testing.T) {
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)

	a := NewToken()
	b := NewToken()
	assert.Regexp(t, hex32, a)
	assert.Regexp(t, hex32, b)
	assert.NotEqual(t, a, b)
}

func TestBlobKey_Layout(t *testing.T) {
	const token = "0123456789abcdef0123456789abcdef"

	key, err := blobKey("abc", "report.csv", token)
	require.NoError(t, err)
	assert.Equal(t, "sessions/abc/uploads/"+token+"_report.csv", key)

	key, err = blobKey("", "report.csv", token)
	require.NoError(t, err)
	assert.Equal(t, "uploads/"+token+"_report.csv", key)
}

func TestBlobKey_SessionSegment(t *testing.T) {
	tests := []struct {
		session string
		want    string
	}{
		{"a/../b", "sessions/a%2F..%2Fb/uploads/tok_x.csv"},
		{"a/b", "sessions/a%2Fb/uploads/tok_x.csv"},
		{"a b", "sessions/a%20b/uploads/tok_x.csv"},
		{"user@x.io", "sessions/user@x.io/uploads/tok_x.csv"},
		{"../", "sessions/..%2F/uploads/tok_x.csv"},
		{"100%", "sessions/100%25/uploads/tok_x.csv"},
	}

	seen := make(map[string]string)
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			key, err := blobKey(tt.session, "x.csv", "tok")
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)

			prefix := strings.TrimSuffix(key, "/uploads/tok_x.csv")
			assert.Equal(t, 2, strings.Count(prefix, "/")+1, "session adds no path segments")
			if other, dup := seen[prefix]; dup {
				t.Errorf("sessions %q and %q share prefix %s", other, tt.session, prefix)
			}
			seen[prefix] = tt.session
		})
	}
}

func TestBlobKey_RejectsDotSegments(t *testing.T) {
	for _, session := range []string{".", ".."} {
		_, err := blobKey(session, "x.csv", "tok")
		assert.ErrorIs(t, err, ErrInvalidSession, session)
	}
}

func TestBlobKey_Unique(t *testing.T) {
	pattern := regexp.MustCompile(`^sessions/s1/uploads/[0-9a-f]{32}_data.csv$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := BlobKey("s1", "data.csv")
		require.NoError(t, err)
		assert.Regexp(t, pattern, key)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}
