package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Tabular loader for the universal cell-level contract: required columns
// cell_id, x, y; optional cell_type; every remaining column is a
// measurement channel. Delimiter and compression are chosen from the file
// extension (.tsv/.txt use tabs, .gz and .zst wrap either).

const defaultCategory = "unassigned"

// Load reads a dataset from a tabular file on disk.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))
	inner := path

	var r io.Reader = f
	switch ext {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip dataset %s: %w", name, err)
		}
		defer gz.Close()
		r = gz
		inner = strings.TrimSuffix(path, ext)
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd dataset %s: %w", name, err)
		}
		defer zr.Close()
		r = zr
		inner = strings.TrimSuffix(path, ext)
	}

	comma := ','
	switch strings.ToLower(filepath.Ext(inner)) {
	case ".tsv", ".txt":
		comma = '\t'
	}

	return Read(r, name, comma)
}

// Read parses delimited cell-level data. The first row is the header;
// column order is free but cell_id, x and y must be present.
func Read(r io.Reader, name string, comma rune) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idCol, xCol, yCol, catCol := -1, -1, -1, -1
	var channelCols []int
	var channelNames []string
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "cell_id":
			idCol = i
		case "x":
			xCol = i
		case "y":
			yCol = i
		case "cell_type":
			catCol = i
		default:
			channelCols = append(channelCols, i)
			channelNames = append(channelNames, strings.TrimSpace(raw))
		}
	}
	if idCol < 0 || xCol < 0 || yCol < 0 {
		return nil, fmt.Errorf("header must contain cell_id, x and y columns, got %v", header)
	}

	panel, err := NewChannelPanel(channelNames)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Name:       name,
		Channels:   panel,
		Categories: NewCategoryRegistry(),
	}
	seen := make(map[string]struct{})

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header))
		}

		key := strings.TrimSpace(rec[idCol])
		if key == "" {
			return nil, fmt.Errorf("line %d: empty cell_id", line)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate cell_id %q", line, key)
		}
		seen[key] = struct{}{}

		x, err := strconv.ParseFloat(strings.TrimSpace(rec[xCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad x %q", line, rec[xCol])
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(rec[yCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad y %q", line, rec[yCol])
		}

		category := defaultCategory
		if catCol >= 0 {
			if v := strings.TrimSpace(rec[catCol]); v != "" {
				category = v
			}
		}
		ds.Categories.Add(category)

		values := make([]float32, len(channelCols))
		for vi, ci := range channelCols {
			raw := strings.TrimSpace(rec[ci])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q for channel %s", line, raw, channelNames[vi])
			}
			values[vi] = float32(v)
		}

		ds.Entities = append(ds.Entities, Entity{
			ID:       int32(len(ds.Entities) + 1),
			Key:      key,
			X:        x,
			Y:        y,
			Category: category,
			Values:   values,
		})
	}

	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return ds, nil
}
