package books_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeping-engine/books"
)

func TestMonth_Navigation(t *testing.T) {
	december := books.NewMonth(2024, time.December)

	assert.Equal(t, books.NewMonth(2025, time.January), december.Next())
	assert.Equal(t, books.NewMonth(2024, time.November), december.Prev())
	assert.Equal(t, books.Date(2024, time.December, 1), december.First())
	assert.Equal(t, books.Date(2024, time.December, 31), december.LastDay())
	assert.Equal(t, books.Date(2024, time.February, 29), books.NewMonth(2024, time.February).LastDay())
	assert.Equal(t, "2024-12", december.String())
}

func TestMonth_Ordering(t *testing.T) {
	mar := books.NewMonth(2025, time.March)
	jun := books.NewMonth(2025, time.June)

	assert.True(t, mar.Before(jun))
	assert.True(t, jun.After(mar))
	assert.False(t, jun.Before(jun))
	assert.True(t, books.NewMonth(2024, time.December).Before(books.NewMonth(2025, time.January)))
	assert.Equal(t, jun, books.Later(mar, jun))
	assert.Equal(t, jun, books.Later(jun, mar))
}

func TestMonth_Contains(t *testing.T) {
	m := books.NewMonth(2025, time.March)
	assert.True(t, m.Contains(time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, m.Contains(books.Date(2025, time.April, 1)))
}

func TestMonthsBetween(t *testing.T) {
	months := books.MonthsBetween(books.NewMonth(2024, time.November), books.NewMonth(2025, time.February))
	require.Len(t, months, 4)
	assert.Equal(t, books.NewMonth(2025, time.January), months[2])

	assert.Empty(t, books.MonthsBetween(books.NewMonth(2025, time.June), books.NewMonth(2025, time.May)))
}

func TestParseMonth(t *testing.T) {
	m, err := books.ParseMonth(3, 2025)
	require.NoError(t, err)
	assert.Equal(t, books.NewMonth(2025, time.March), m)

	_, err = books.ParseMonth(13, 2025)
	assert.True(t, books.IsClientError(err))

	_, err = books.ParseMonth(1, 0)
	assert.True(t, books.IsClientError(err))
}

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	got := books.Day(time.Date(2025, time.March, 1, 2, 0, 0, 0, ist))
	assert.Equal(t, books.Date(2025, time.February, 28), got)
}
