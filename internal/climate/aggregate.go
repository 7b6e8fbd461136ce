package climate

import "strconv"

const kelvinOffset = 273.15

// KelvinToCelsius converts an absolute temperature to Celsius.
func KelvinToCelsius(k float64) float64 { return k - kelvinOffset }

// CelsiusToFahrenheit converts Celsius to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

// CheckAlignment verifies that every series has the same number of days and
// the same date at every index as the first one.
func CheckAlignment(series []RawDailySeries) error {
	if len(series) == 0 {
		return ErrInsufficientData
	}
	ref := series[0]
	for _, s := range series[1:] {
		if len(s.Days) != len(ref.Days) {
			return &MisalignmentError{
				DatasetID: s.DatasetID,
				Index:     -1,
				Want:      strconv.Itoa(len(ref.Days)),
				Got:       strconv.Itoa(len(s.Days)),
			}
		}
		for i := range s.Days {
			if s.Days[i].Date != ref.Days[i].Date {
				return &MisalignmentError{
					DatasetID: s.DatasetID,
					Index:     i,
					Want:      ref.Days[i].Date,
					Got:       s.Days[i].Date,
				}
			}
		}
	}
	return nil
}

// sumByDay adds up RawValue per day index across aligned series.
func sumByDay(series []RawDailySeries) ([]float64, error) {
	if err := CheckAlignment(series); err != nil {
		return nil, err
	}
	sums := make([]float64, len(series[0].Days))
	for _, s := range series {
		for i, d := range s.Days {
			sums[i] += d.RawValue
		}
	}
	return sums, nil
}

// AggregateTemperature averages the temperature series per day and derives
// Celsius and Fahrenheit. Calendar fields come from the first series.
func AggregateTemperature(series []RawDailySeries) ([]TemperatureDay, error) {
	sums, err := sumByDay(series)
	if err != nil {
		return nil, err
	}

	n := float64(len(series))
	days := make([]TemperatureDay, len(sums))
	for i, sum := range sums {
		ref := series[0].Days[i]
		kelvin := sum / n
		celsius := KelvinToCelsius(kelvin)
		days[i] = TemperatureDay{
			Year:       ref.Year,
			Month:      ref.Month,
			Day:        ref.Day,
			Date:       ref.Date,
			Kelvin:     kelvin,
			Celsius:    celsius,
			Fahrenheit: CelsiusToFahrenheit(celsius),
		}
	}
	return days, nil
}

// AggregatePrecipitation sums the precipitation series per day. Unlike
// temperature the values are not averaged.
func AggregatePrecipitation(series []RawDailySeries) ([]PrecipitationDay, error) {
	sums, err := sumByDay(series)
	if err != nil {
		return nil, err
	}

	days := make([]PrecipitationDay, len(sums))
	for i, sum := range sums {
		ref := series[0].Days[i]
		days[i] = PrecipitationDay{
			Year:     ref.Year,
			Month:    ref.Month,
			Day:      ref.Day,
			Date:     ref.Date,
			RawValue: sum,
		}
	}
	return days, nil
}
