package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "-", FormatAmount(decimal.Zero))
	assert.Equal(t, "12.5", FormatAmount(decimal.RequireFromString("12.50")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "0xbeef", Truncate("0xbeef", 10))
	assert.Equal(t, "0xbe…", Truncate("0xbeef", 5))
}

func TestColorizeLogs_LeavesUnknownLines(t *testing.T) {
	logs := ColorizeLogs([]string{"plain line", ""})
	assert.Equal(t, []string{"plain line", ""}, logs)
}
