package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const sampleCSV = `cell_id,x,y,cell_type,CD3E,EPCAM
c1,0.5,1.5,T cell,2.1,0.0
c2,3.0,2.0,Epithelial,0.1,4.2
c3,1.0,4.0,T cell,1.8,0.2
`

func TestReadCSV(t *testing.T) {
	ds, err := Read(strings.NewReader(sampleCSV), "sample.csv", ',')
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(ds.Entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(ds.Entities))
	}
	if ds.Channels.Len() != 2 {
		t.Fatalf("got %d channels, want 2", ds.Channels.Len())
	}
	if i, ok := ds.Channels.Index("epcam"); !ok || i != 1 {
		t.Errorf("Index(epcam) = (%d, %v), want (1, true)", i, ok)
	}

	e := ds.ByID(2)
	if e == nil || e.Key != "c2" || e.Category != "Epithelial" {
		t.Fatalf("unexpected entity 2: %+v", e)
	}
	if e.X != 3.0 || e.Y != 2.0 {
		t.Errorf("unexpected position: (%v, %v)", e.X, e.Y)
	}
	if e.Values[1] != 4.2 {
		t.Errorf("unexpected EPCAM value: %v", e.Values[1])
	}

	if ds.Categories.Len() != 2 {
		t.Errorf("got %d categories, want 2", ds.Categories.Len())
	}
}

func TestReadTSVWithoutCellType(t *testing.T) {
	tsv := "cell_id\tx\ty\tCD3E\nc1\t1\t2\t0.5\n"
	ds, err := Read(strings.NewReader(tsv), "sample.tsv", '\t')
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ds.Entities[0].Category != defaultCategory {
		t.Errorf("category = %q, want %q", ds.Entities[0].Category, defaultCategory)
	}
}

func TestReadRejectsDuplicateIDs(t *testing.T) {
	csv := "cell_id,x,y\nc1,0,0\nc1,1,1\n"
	if _, err := Read(strings.NewReader(csv), "dup.csv", ','); err == nil {
		t.Fatal("expected duplicate cell_id error")
	}
}

func TestReadRejectsMissingRequiredColumns(t *testing.T) {
	csv := "cell_id,x,CD3E\nc1,0,1\n"
	if _, err := Read(strings.NewReader(csv), "noy.csv", ','); err == nil {
		t.Fatal("expected missing-column error")
	}
}

func TestReadRejectsBadCoordinate(t *testing.T) {
	csv := "cell_id,x,y\nc1,zero,0\n"
	if _, err := Read(strings.NewReader(csv), "badx.csv", ','); err == nil {
		t.Fatal("expected coordinate parse error")
	}
}

func TestReadEmptyChannelValueDefaultsToZero(t *testing.T) {
	csv := "cell_id,x,y,CD3E\nc1,0,0,\n"
	ds, err := Read(strings.NewReader(csv), "blank.csv", ',')
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ds.Entities[0].Values[0] != 0 {
		t.Errorf("blank value = %v, want 0", ds.Entities[0].Values[0])
	}
}

func TestLoadGzippedCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.csv.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(sampleCSV)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(ds.Entities))
	}
	if err := ds.Validate(); err != nil {
		t.Fatalf("loaded dataset invalid: %v", err)
	}
}
