package crops

import (
	"math"
	"sort"
	"time"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
)

// MonthlyAverage is the mean of a daily series over one calendar month.
type MonthlyAverage struct {
	Month time.Month `json:"month"`
	Value float64    `json:"value"`
	Days  int        `json:"days"`
}

// MonthScore is a crop's compatibility for one month.
type MonthScore struct {
	Month         time.Month `json:"month"`
	Temperature   float64    `json:"temperature"`
	Precipitation float64    `json:"precipitation"`
	Combined      float64    `json:"combined"`
}

// Compatibility is a crop together with its scores for a forecast.
type Compatibility struct {
	Crop
	MonthlyCompatibility []MonthScore `json:"monthly_compatibility"`
	AverageCompatibility float64      `json:"average_compatibility"`
}

var dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02", time.RFC3339}

// monthOf prefers the numeric month and falls back to parsing the date.
func monthOf(month int, date string) (time.Month, bool) {
	if month >= 1 && month <= 12 {
		return time.Month(month), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Month(), true
		}
	}
	return 0, false
}

type monthAccumulator struct {
	sum   [12]float64
	count [12]int
}

func (a *monthAccumulator) add(month int, date string, v float64) {
	m, ok := monthOf(month, date)
	if !ok {
		return
	}
	a.sum[m-1] += v
	a.count[m-1]++
}

// averages lists months in calendar order, skipping months without data.
func (a *monthAccumulator) averages() []MonthlyAverage {
	var out []MonthlyAverage
	for i := range a.sum {
		if a.count[i] == 0 {
			continue
		}
		out = append(out, MonthlyAverage{
			Month: time.Month(i + 1),
			Value: a.sum[i] / float64(a.count[i]),
			Days:  a.count[i],
		})
	}
	return out
}

// MonthlyTemperature averages Kelvin per calendar month.
func MonthlyTemperature(days []climate.TemperatureDay) []MonthlyAverage {
	var acc monthAccumulator
	for _, d := range days {
		acc.add(d.Month, d.Date, d.Kelvin)
	}
	return acc.averages()
}

// MonthlyPrecipitation averages daily precipitation per calendar month.
func MonthlyPrecipitation(days []climate.PrecipitationDay) []MonthlyAverage {
	var acc monthAccumulator
	for _, d := range days {
		acc.add(d.Month, d.Date, d.RawValue)
	}
	return acc.averages()
}

// Score rates how well value fits [lo, hi] from 0 to 100. Inside the range
// the score is 100; outside it drops by the relative distance to the nearest
// bound and never goes below 0.
func Score(value, lo, hi float64) float64 {
	switch {
	case value < lo:
		return math.Max(0, 100-((lo-value)/lo)*100)
	case value > hi:
		return math.Max(0, 100-((value-hi)/hi)*100)
	default:
		return 100
	}
}

// Rank scores every crop for each month present in both series and returns
// the crops sorted by average compatibility, highest first. Ties keep the
// input order.
func Rank(temperature, precipitation []MonthlyAverage, crops []Crop) []Compatibility {
	precipByMonth := make(map[time.Month]float64, len(precipitation))
	for _, p := range precipitation {
		precipByMonth[p.Month] = p.Value
	}

	ranked := make([]Compatibility, 0, len(crops))
	for _, crop := range crops {
		minPrecip := crop.MinIdealAnnualPrecipMm / 12
		maxPrecip := crop.MaxIdealAnnualPrecipMm / 12

		var (
			months []MonthScore
			total  float64
		)
		for _, t := range temperature {
			p, ok := precipByMonth[t.Month]
			if !ok {
				continue
			}
			ms := MonthScore{
				Month:         t.Month,
				Temperature:   Score(t.Value, crop.MinIdealTempKelvin, crop.MaxIdealTempKelvin),
				Precipitation: Score(p, minPrecip, maxPrecip),
			}
			ms.Combined = (ms.Temperature + ms.Precipitation) / 2
			months = append(months, ms)
			total += ms.Combined
		}

		c := Compatibility{Crop: crop, MonthlyCompatibility: months}
		if len(months) > 0 {
			c.AverageCompatibility = total / float64(len(months))
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AverageCompatibility > ranked[j].AverageCompatibility
	})
	return ranked
}

// RankDaily reduces the daily aggregates to monthly averages and ranks crops.
func RankDaily(temperature []climate.TemperatureDay, precipitation []climate.PrecipitationDay, crops []Crop) []Compatibility {
	return Rank(MonthlyTemperature(temperature), MonthlyPrecipitation(precipitation), crops)
}
