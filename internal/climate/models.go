package climate

import (
	"fmt"
	"time"
)

// DatasetID selects one data layer at the climate provider.
type DatasetID int

// Class is the semantic class of a dataset.
type Class string

const (
	ClassTemperature   Class = "temperature"
	ClassPrecipitation Class = "precipitation"
)

// Class reports the dataset class. The provider's family encodes it in the id
// parity: even ids are temperature, odd ids are precipitation.
func (id DatasetID) Class() Class {
	if id%2 == 0 {
		return ClassTemperature
	}
	return ClassPrecipitation
}

// JobID is the opaque identifier of an asynchronous provider job.
type JobID string

// DateRange is the inclusive window requested from the provider.
type DateRange struct {
	Begin time.Time
	End   time.Time
}

// providerDateLayout is MM/DD/YYYY.
const providerDateLayout = "01/02/2006"

// BeginParam formats the start date for the provider.
func (r DateRange) BeginParam() string { return r.Begin.Format(providerDateLayout) }

// EndParam formats the end date for the provider.
func (r DateRange) EndParam() string { return r.End.Format(providerDateLayout) }

// HorizonFrom returns the range starting on now's calendar day and spanning months.
func HorizonFrom(now time.Time, months int) DateRange {
	begin := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return DateRange{Begin: begin, End: begin.AddDate(0, months, 0)}
}

// DayRecord is one day of a provider series.
type DayRecord struct {
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Day      int     `json:"day"`
	Date     string  `json:"date"`
	RawValue float64 `json:"raw_value"`
}

// RawDailySeries is a single dataset's response, indexed by calendar day.
type RawDailySeries struct {
	DatasetID DatasetID   `json:"datatype"`
	Days      []DayRecord `json:"data"`
}

// TemperatureDay is the per-day temperature averaged across datasets.
type TemperatureDay struct {
	Year       int     `json:"year"`
	Month      int     `json:"month"`
	Day        int     `json:"day"`
	Date       string  `json:"date"`
	Kelvin     float64 `json:"kelvin"`
	Celsius    float64 `json:"celsius"`
	Fahrenheit float64 `json:"fahrenheit"`
}

// PrecipitationDay is the per-day precipitation summed across datasets.
type PrecipitationDay struct {
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Day      int     `json:"day"`
	Date     string  `json:"date"`
	RawValue float64 `json:"raw_value"`
}

// Outcome records how a single dataset pipeline ended.
type Outcome struct {
	DatasetID DatasetID
	Class     Class
	JobID     JobID
	Err       error
	Duration  time.Duration
}

// Succeeded reports whether the dataset produced a series.
func (o Outcome) Succeeded() bool { return o.Err == nil }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("dataset %d: %v", o.DatasetID, o.Err)
	}
	return fmt.Sprintf("dataset %d: ok", o.DatasetID)
}
