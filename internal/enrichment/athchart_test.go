package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeakPriceFromChart_FiveTupleBars(t *testing.T) {
	body := []byte(`{"bars":[[1700000000,1.0,2.0,0.5,1.5],[1700000900,1.5,3.0,1.0,2.5]]}`)
	peak, err := peakPriceFromChart(body)
	require.NoError(t, err)
	assert.Equal(t, 3.0, peak)
}

func TestPeakPriceFromChart_ObjectBarsHighCloseKeys(t *testing.T) {
	body := []byte(`{"data":[{"h":4.2,"c":3.1},{"high":5.5,"close":2.0}]}`)
	peak, err := peakPriceFromChart(body)
	require.NoError(t, err)
	assert.Equal(t, 5.5, peak)
}

func TestPeakPriceFromChart_ObjectBarsPriceKey(t *testing.T) {
	body := []byte(`{"chart":[{"high":1.0,"price":9.9}]}`)
	peak, err := peakPriceFromChart(body)
	require.NoError(t, err)
	assert.Equal(t, 9.9, peak)
}

func TestPeakPriceFromChart_AllContainerKeys(t *testing.T) {
	for _, key := range []string{"bars", "data", "chart", "candles", "ohlc", "result"} {
		body := []byte(`{"` + key + `":[{"h":7.0,"c":1.0}]}`)
		peak, err := peakPriceFromChart(body)
		require.NoError(t, err, "container key %q", key)
		assert.Equal(t, 7.0, peak, "container key %q", key)
	}
}

func TestPeakPriceFromChart_RawTopLevelList(t *testing.T) {
	body := []byte(`[{"h":2.0,"c":1.0},{"h":6.6,"c":1.0}]`)
	peak, err := peakPriceFromChart(body)
	require.NoError(t, err)
	assert.Equal(t, 6.6, peak)
}

func TestPeakPriceFromChart_NoBarsFound(t *testing.T) {
	body := []byte(`{"unrelated":"field"}`)
	_, err := peakPriceFromChart(body)
	assert.Error(t, err)
}

func TestPeakPriceFromChart_ZeroPriceIsError(t *testing.T) {
	body := []byte(`{"bars":[{"h":0,"c":0}]}`)
	_, err := peakPriceFromChart(body)
	assert.Error(t, err)
}
