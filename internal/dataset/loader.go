// Package dataset loads and cleans the study-level input table.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/verte-zerg/metacog/internal/model"
)

// Required column names of the input CSV, in no particular order.
var requiredColumns = []string{
	"study",
	"Mean.1", "Mean.2",
	"SD.1", "SD.2",
	"N.1", "N.2",
	"Severity", "Duration", "T.2", "Age",
	"measure", "domain",
}

// SchemaError reports required columns missing from the input header.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("input %s is missing required columns: %s", e.Path, strings.Join(e.Missing, ", "))
}

// Load reads the study table from a CSV file. The file must contain every
// required column; extra columns are ignored.
func Load(path string) ([]model.Study, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close on a read-only handle.
			_ = cerr
		}
	}()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read input header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}

	var studies []model.Study
	line := 1
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read input row %d: %w", line+1, err)
		}
		line++
		study, err := parseRow(record, cols, line)
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}
	return studies, nil
}

func parseRow(record []string, cols map[string]int, line int) (model.Study, error) {
	cell := func(name string) string {
		idx := cols[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	num := func(name string) (float64, error) {
		v, err := strconv.ParseFloat(cell(name), 64)
		if err != nil {
			return 0, fmt.Errorf("row %d: column %s: invalid number %q", line, name, cell(name))
		}
		return v, nil
	}
	count := func(name string) (int, error) {
		v, err := strconv.Atoi(cell(name))
		if err != nil {
			return 0, fmt.Errorf("row %d: column %s: invalid count %q", line, name, cell(name))
		}
		return v, nil
	}

	var study model.Study
	var err error
	study.Label = cell("study")
	if study.Label == "" {
		return model.Study{}, fmt.Errorf("row %d: empty study label", line)
	}
	if study.Mean1, err = num("Mean.1"); err != nil {
		return model.Study{}, err
	}
	if study.Mean2, err = num("Mean.2"); err != nil {
		return model.Study{}, err
	}
	if study.SD1, err = num("SD.1"); err != nil {
		return model.Study{}, err
	}
	if study.SD2, err = num("SD.2"); err != nil {
		return model.Study{}, err
	}
	if study.N1, err = count("N.1"); err != nil {
		return model.Study{}, err
	}
	if study.N2, err = count("N.2"); err != nil {
		return model.Study{}, err
	}
	if study.N1 <= 0 || study.N2 <= 0 {
		return model.Study{}, fmt.Errorf("row %d: study %q: sample sizes must be positive", line, study.Label)
	}
	if study.SD1 < 0 || study.SD2 < 0 {
		return model.Study{}, fmt.Errorf("row %d: study %q: standard deviations must be non-negative", line, study.Label)
	}
	if study.Severity, err = num("Severity"); err != nil {
		return model.Study{}, err
	}
	if study.Duration, err = num("Duration"); err != nil {
		return model.Study{}, err
	}
	if study.Age, err = num("Age"); err != nil {
		return model.Study{}, err
	}
	study.ExposureType = cell("T.2")
	study.Measure = cell("measure")
	study.Domain = cell("domain")
	return study, nil
}
