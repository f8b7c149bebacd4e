package fabdata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CSVHeader is the column layout of element CSV exports.
var CSVHeader = []string{
	"id",
	"radius (mm)",
	"height (mm)",
	"compression-height-ratio",
	"density (kg/l)",
	"cycle time (s)",
	"time placed (from epoch)",
	"location frame",
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// CSVRow returns the element's row in CSVHeader order.
func (e *FabricationElement) CSVRow() []string {
	return []string{
		e.ID.String(),
		formatOptional(e.Radius),
		strconv.FormatFloat(e.Height, 'f', -1, 64),
		formatOptional(e.CompressionRatio),
		formatOptional(e.Density),
		formatOptional(e.CycleTime),
		formatOptional(e.Placed),
		e.Location.String(),
	}
}

// WriteCSV writes a header and one row per element.
func WriteCSV(w io.Writer, elems []*FabricationElement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, elem := range elems {
		if err := cw.Write(elem.CSVRow()); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVResult is the outcome for one run record.
type CSVResult struct {
	Source  string
	Target  string
	Skipped bool
}

// CSVReports writes a .csv next to every run record named in paths.
// Directories contribute their .json children. Existing CSV files are left
// alone unless clobber is set.
func (r *Records) CSVReports(paths []string, clobber bool) ([]CSVResult, error) {
	var sources []string
	for _, p := range paths {
		info, err := r.fs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if err := checkJSONPath(p); err != nil {
				return nil, err
			}
			sources = append(sources, p)
			continue
		}
		entries, err := r.fs.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		var found []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
				continue
			}
			found = append(found, filepath.Join(p, entry.Name()))
		}
		sort.Strings(found)
		sources = append(sources, found...)
	}

	results := make([]CSVResult, 0, len(sources))
	for _, src := range sources {
		target := strings.TrimSuffix(src, filepath.Ext(src)) + ".csv"
		if !clobber && r.fs.Exists(target) {
			results = append(results, CSVResult{Source: src, Target: target, Skipped: true})
			continue
		}
		elems, err := r.LoadElements(src)
		if err != nil {
			return results, err
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, elems); err != nil {
			return results, fmt.Errorf("%s: %w", src, err)
		}
		if err := r.fs.WriteFile(target, buf.Bytes(), 0644); err != nil {
			return results, fmt.Errorf("failed to write %s: %w", target, err)
		}
		results = append(results, CSVResult{Source: src, Target: target})
	}
	return results, nil
}
