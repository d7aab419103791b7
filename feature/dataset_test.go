package feature

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/rushteam/carprice/core"
)

const trainingCSV = `title,Price,Mileage(miles),Registration_Year,Previous Owners,Fuel type,Body type,Engine,Gearbox,Doors,Seats,Emission Class,Brand
A,10000,42000,2016,1,Petrol,SUV,1.6,Manual,5,5,6,Ford
B,20000,18000,2019,2,Diesel,SUV,2.0,Automatic,5,5,6,BMW
`

func TestReadTrainingCSV(t *testing.T) {
	rows, targets, err := ReadTrainingCSV(strings.NewReader(trainingCSV), CarListingSchema())
	if err != nil {
		t.Fatalf("ReadTrainingCSV() error = %v", err)
	}
	if len(rows) != 2 || len(targets) != 2 {
		t.Fatalf("got %d rows, %d targets", len(rows), len(targets))
	}
	if targets[1] != 20000 {
		t.Errorf("targets[1] = %v, want 20000", targets[1])
	}
	if rows[0][ColumnMileage] != 42000.0 {
		t.Errorf("mileage = %v (%T), want float64 42000", rows[0][ColumnMileage], rows[0][ColumnMileage])
	}
	if rows[1][ColumnGearbox] != "Automatic" {
		t.Errorf("gearbox = %v, want Automatic", rows[1][ColumnGearbox])
	}

	enc := NewCategoricalEncoder()
	if _, err := enc.FitTransform(rows, targets); err != nil {
		t.Fatalf("FitTransform() on csv rows error = %v", err)
	}
}

func TestReadTrainingCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"header only", strings.SplitN(trainingCSV, "\n", 2)[0] + "\n"},
		{"missing column", "title,Price\nA,1\n"},
		{"bad number", strings.Replace(trainingCSV, "42000", "lots", 1)},
		{"bad target", strings.Replace(trainingCSV, "10000", "n/a", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadTrainingCSV(strings.NewReader(tt.input), CarListingSchema())
			if !errors.Is(err, core.ErrInvalidTrainingData) {
				t.Errorf("error = %v, want ErrInvalidTrainingData", err)
			}
		})
	}
}

func TestWriteEncodedCSV(t *testing.T) {
	_, m := fitScenario(t)

	var buf bytes.Buffer
	if err := WriteEncodedCSV(&buf, m, ColumnPrice, []float64{10000, 20000}); err != nil {
		t.Fatalf("WriteEncodedCSV() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.HasSuffix(lines[0], "Brand_BMW,Price") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], ",1,1,20000") {
		t.Errorf("second row = %q", lines[2])
	}

	if err := WriteEncodedCSV(&buf, m, ColumnPrice, []float64{1}); err == nil {
		t.Error("expected error on target length mismatch")
	}
}

func TestWriteEncodedParquet(t *testing.T) {
	enc, m := fitScenario(t)

	var buf bytes.Buffer
	targets := make([]float64, m.Rows())
	for i := range targets {
		targets[i] = float64(10000 * (i + 1))
	}
	if err := WriteEncodedParquet(&buf, m, ColumnPrice, targets); err != nil {
		t.Fatalf("WriteEncodedParquet() error = %v", err)
	}

	f, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if f.NumRows() != int64(m.Rows()) {
		t.Errorf("rows = %d, want %d", f.NumRows(), m.Rows())
	}
	got := make(map[string]bool)
	for _, path := range f.Schema().Columns() {
		got[path[0]] = true
	}
	for _, name := range append(enc.FeatureNames(), ColumnPrice) {
		if !got[name] {
			t.Errorf("parquet schema missing column %q", name)
		}
	}

	if err := WriteEncodedParquet(&buf, m, ColumnPrice, targets[:1]); err == nil {
		t.Error("expected length mismatch error")
	}
}
