package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseNameMatches_TermPresent(t *testing.T) {
	assert.True(t, caseNameMatches("what did alice hold about abstract ideas", "Alice Corp. v. CLS Bank Int'l"))
}

func TestCaseNameMatches_NoOverlap(t *testing.T) {
	assert.False(t, caseNameMatches("obviousness standard under ksr", "Alice Corp. v. CLS Bank Int'l"))
}

func TestCaseNameMatches_ShortTermsIgnored(t *testing.T) {
	// "in" and "re" are below the 3-char threshold and must not match on
	// their own within an unrelated case name.
	assert.False(t, caseNameMatches("in re of something", "Bilski"))
}

func TestSnippet_TruncatesLongText(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	s := snippet(string(long), 240)
	assert.Len(t, s, 243) // 240 chars + "..."
	assert.Contains(t, s, "...")
}

func TestSnippet_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short text", snippet("  short text  ", 240))
}

func TestCursor_RoundTrips(t *testing.T) {
	c := cursor{Score: 1.25, TS: 1700000000, ID: "abc-123"}
	token := encodeCursor(c)
	got, err := decodeCursor(token)
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecodeCursor_RejectsGarbage(t *testing.T) {
	_, err := decodeCursor("not-a-valid-cursor!!")
	assert.Error(t, err)
}

func TestAfterCursor_OrdersByScoreThenTSThenID(t *testing.T) {
	c := cursor{Score: 1.0, TS: 100, ID: "m"}

	assert.True(t, afterCursor(c, 0.5, 100, "m"), "lower score belongs on the next page")
	assert.False(t, afterCursor(c, 1.5, 100, "m"), "higher score belongs on a prior page")

	assert.True(t, afterCursor(c, 1.0, 50, "m"), "same score, older release date, belongs on the next page")
	assert.False(t, afterCursor(c, 1.0, 150, "m"), "same score, newer release date, belongs on a prior page")

	assert.True(t, afterCursor(c, 1.0, 100, "a"), "same score and date, lexically earlier id, belongs on the next page")
	assert.False(t, afterCursor(c, 1.0, 100, "z"), "same score and date, lexically later id, belongs on a prior page")
}
