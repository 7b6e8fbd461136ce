package climate

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSeries(id DatasetID, values ...float64) RawDailySeries {
	days := make([]DayRecord, len(values))
	for i, v := range values {
		days[i] = DayRecord{
			Year:     2025,
			Month:    1,
			Day:      i + 1,
			Date:     fmt.Sprintf("01/%02d/2025", i+1),
			RawValue: v,
		}
	}
	return RawDailySeries{DatasetID: id, Days: days}
}

func TestAggregateTemperatureMean(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const days = 30

	for n := 1; n <= 6; n++ {
		series := make([]RawDailySeries, n)
		for j := range series {
			values := make([]float64, days)
			for i := range values {
				values[i] = 250 + rng.Float64()*60
			}
			series[j] = makeSeries(DatasetID(42+2*j), values...)
		}

		out, err := AggregateTemperature(series)
		require.NoError(t, err)
		require.Len(t, out, days)

		for i, d := range out {
			var sum float64
			for _, s := range series {
				sum += s.Days[i].RawValue
			}
			mean := sum / float64(n)
			assert.InDelta(t, mean, d.Kelvin, 1e-9)
			assert.InDelta(t, d.Kelvin-273.15, d.Celsius, 1e-9)
			assert.InDelta(t, d.Celsius*9/5+32, d.Fahrenheit, 1e-9)
			assert.Equal(t, series[0].Days[i].Date, d.Date)
			assert.Equal(t, series[0].Days[i].Day, d.Day)
		}
	}
}

func TestAggregateTemperatureScenario(t *testing.T) {
	out, err := AggregateTemperature([]RawDailySeries{
		makeSeries(42, 280, 284),
		makeSeries(44, 280, 282),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.InDelta(t, 280, out[0].Kelvin, 1e-9)
	assert.InDelta(t, 283, out[1].Kelvin, 1e-9)
	assert.InDelta(t, 6.85, out[0].Celsius, 1e-9)
	assert.InDelta(t, 9.85, out[1].Celsius, 1e-9)
	assert.InDelta(t, 44.33, out[0].Fahrenheit, 1e-9)
}

func TestAggregatePrecipitationSums(t *testing.T) {
	out, err := AggregatePrecipitation([]RawDailySeries{
		makeSeries(43, 1, 2),
		makeSeries(45, 3, 4),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.InDelta(t, 4, out[0].RawValue, 1e-9)
	assert.InDelta(t, 6, out[1].RawValue, 1e-9)
	assert.Equal(t, "01/02/2025", out[1].Date)
}

func TestAggregateEmptyInput(t *testing.T) {
	_, err := AggregateTemperature(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = AggregatePrecipitation([]RawDailySeries{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAggregateRejectsMisalignedSeries(t *testing.T) {
	t.Run("length", func(t *testing.T) {
		_, err := AggregateTemperature([]RawDailySeries{
			makeSeries(42, 280, 281, 282),
			makeSeries(44, 280, 281),
		})
		require.ErrorIs(t, err, ErrMisalignedSeries)

		var mis *MisalignmentError
		require.True(t, errors.As(err, &mis))
		assert.Equal(t, DatasetID(44), mis.DatasetID)
		assert.Equal(t, -1, mis.Index)
	})

	t.Run("date", func(t *testing.T) {
		shifted := makeSeries(45, 1, 2)
		shifted.Days[1].Date = "01/03/2025"

		_, err := AggregatePrecipitation([]RawDailySeries{makeSeries(43, 1, 2), shifted})
		require.ErrorIs(t, err, ErrMisalignedSeries)

		var mis *MisalignmentError
		require.True(t, errors.As(err, &mis))
		assert.Equal(t, 1, mis.Index)
		assert.Contains(t, err.Error(), "01/03/2025")
	})
}

func TestDatasetClassByParity(t *testing.T) {
	assert.Equal(t, ClassTemperature, DatasetID(42).Class())
	assert.Equal(t, ClassPrecipitation, DatasetID(43).Class())
	assert.Equal(t, ClassTemperature, DatasetID(0).Class())
	assert.Equal(t, ClassPrecipitation, DatasetID(89).Class())
}
