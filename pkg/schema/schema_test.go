package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" 2023-01 ")
	require.NoError(t, err)
	assert.Equal(t, Period("2023-01"), p)

	for _, bad := range []string{"", "2023-1", "2023-13", "23-01", "2023/01"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("2023-01", "2023-03", "2023-01"))
	assert.True(t, Contains("2023-01", "2023-03", "2023-03"))
	assert.False(t, Contains("2023-01", "2023-03", "2022-12"))
	assert.False(t, Contains("2023-01", "2023-03", "2023-04"))
}

func TestDarwinDates_Set(t *testing.T) {
	var d DarwinDates
	assert.False(t, d.HasCurrent())

	d.Set(VariantCurrent, "2023-01", "2023-06")
	d.Set(VariantVar10, "2019-04", "2020-02")
	assert.True(t, d.HasCurrent())
	assert.True(t, d.HasVar10())
	assert.Equal(t, Period("2019-04"), d.StartVar10)
	assert.Equal(t, "THA_var10", VariantVar10.Column("THA"))
	assert.Equal(t, "THA", VariantCurrent.Column("THA"))
}

func TestNormalizeDarwins(t *testing.T) {
	got := NormalizeDarwins([]string{" THA", "", "LVS", "THA", "LVS ", "tha"})
	assert.Equal(t, []string{"THA", "LVS", "tha"}, got)
}

func TestParseFrequency(t *testing.T) {
	cases := map[string]Frequency{
		"":     FrequencyNone,
		"B":    FrequencyBusinessDay,
		"d":    FrequencyDay,
		"1h":   FrequencyHour,
		"min":  FrequencyMinute,
		" W ":  FrequencyWeek,
		"M":    FrequencyMonth,
		"none": FrequencyNone,
	}
	for in, want := range cases {
		got, err := ParseFrequency(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFrequency("fortnight")
	assert.Error(t, err)
}

func TestFrequency_Bucket(t *testing.T) {
	// 2023-01-07 is a Saturday
	sat := time.Date(2023, 1, 7, 15, 42, 10, 0, time.UTC)
	sun := time.Date(2023, 1, 8, 9, 0, 0, 0, time.UTC)
	fri := time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, fri, FrequencyBusinessDay.Bucket(sat))
	assert.Equal(t, fri, FrequencyBusinessDay.Bucket(sun))
	assert.Equal(t, time.Date(2023, 1, 7, 0, 0, 0, 0, time.UTC), FrequencyDay.Bucket(sat))
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), FrequencyWeek.Bucket(sun))
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), FrequencyWeek.Bucket(time.Date(2023, 1, 2, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), FrequencyMonth.Bucket(sat))
	assert.Equal(t, time.Date(2023, 1, 7, 15, 0, 0, 0, time.UTC), FrequencyHour.Bucket(sat))
	assert.Equal(t, time.Date(2023, 1, 7, 15, 42, 0, 0, time.UTC), FrequencyMinute.Bucket(sat))
	assert.Equal(t, sat, FrequencyNone.Bucket(sat))
}
