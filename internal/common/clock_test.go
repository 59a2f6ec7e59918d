package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateKeyIsUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2026, 8, 24, 22, 30, 0, 0, est) // already Aug 25 in UTC
	assert.Equal(t, "2026-08-25", DateKey(late))
}

func TestParseDateKeyRoundTrip(t *testing.T) {
	parsed, err := ParseDateKey("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", DateKey(parsed))

	_, err = ParseDateKey("28/02/2026")
	assert.Error(t, err)
}
