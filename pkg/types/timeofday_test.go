package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeOfDayParseAndString(t *testing.T) {
	parsed, err := ParseTimeOfDay("08:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(8, 30), parsed)
	assert.Equal(t, "08:30", parsed.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
	_, err = ParseTimeOfDay("nope")
	assert.Error(t, err)
}

func TestTimeOfDayJSONRoundTrip(t *testing.T) {
	payload := struct {
		Start TimeOfDay `json:"start"`
	}{Start: NewTimeOfDay(14, 0)}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"14:00"}`, string(raw))

	var decoded struct {
		Start TimeOfDay `json:"start"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"09:15"}`), &decoded))
	assert.Equal(t, NewTimeOfDay(9, 15), decoded.Start)
}

func TestTimeOfDayScan(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.Scan(int64(600)))
	assert.Equal(t, NewTimeOfDay(10, 0), tod)

	require.NoError(t, tod.Scan("16:45"))
	assert.Equal(t, NewTimeOfDay(16, 45), tod)

	assert.Error(t, tod.Scan(3.14))
}

func TestDateParseAndCombine(t *testing.T) {
	d, err := ParseDate("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", d.String())

	at := d.At(NewTimeOfDay(9, 30))
	assert.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), at)

	_, err = ParseDate("June 1st")
	assert.Error(t, err)
}

func TestDateScanHandlesDatetimeStrings(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2025-06-01 00:00:00"))
	assert.Equal(t, "2025-06-01", d.String())

	require.NoError(t, d.Scan(time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-06-02", d.String())
}
