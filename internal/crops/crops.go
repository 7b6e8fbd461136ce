// Package crops holds the crop reference table and scores crops against a
// forecast climate.
package crops

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

//go:embed crops.json
var defaultTable []byte

var validate = validator.New()

// Crop is a reference entry with the crop's ideal climate.
type Crop struct {
	Name                   string  `json:"name" validate:"required"`
	MinIdealTempKelvin     float64 `json:"min_ideal_temp_kelvin" validate:"gt=0"`
	MaxIdealTempKelvin     float64 `json:"max_ideal_temp_kelvin" validate:"gtefield=MinIdealTempKelvin"`
	MinIdealAnnualPrecipMm float64 `json:"min_ideal_annual_precip_mm" validate:"gt=0"`
	MaxIdealAnnualPrecipMm float64 `json:"max_ideal_annual_precip_mm" validate:"gtefield=MinIdealAnnualPrecipMm"`
	Description            string  `json:"description"`
}

// Table is the read-only crop reference list.
type Table struct {
	crops []Crop
}

type tableFile struct {
	Crops []Crop `json:"crops" validate:"required,min=1,dive"`
}

// Parse decodes and validates a crop table document.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode crop table: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid crop table: %w", err)
	}
	return &Table{crops: f.Crops}, nil
}

// Load reads the crop table at path, or the bundled table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crop table: %w", err)
	}
	return Parse(data)
}

// Default returns the bundled crop table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Crops returns a copy of the reference list.
func (t *Table) Crops() []Crop {
	out := make([]Crop, len(t.crops))
	copy(out, t.crops)
	return out
}

// Len returns the number of crops.
func (t *Table) Len() int { return len(t.crops) }
