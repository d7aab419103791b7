package feature

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rushteam/carprice/core"
)

func listing(title, gearbox, fuel, body, brand string) Row {
	return Row{
		ColumnTitle:            title,
		ColumnMileage:          42000.0,
		ColumnRegistrationYear: 2016,
		ColumnPreviousOwners:   1.0,
		ColumnFuelType:         fuel,
		ColumnBodyType:         body,
		ColumnEngine:           1.6,
		ColumnGearbox:          gearbox,
		ColumnDoors:            5.0,
		ColumnSeats:            5.0,
		ColumnEmissionClass:    6,
		ColumnBrand:            brand,
	}
}

// fitScenario 拟合两行训练数据：A/Manual/Petrol/SUV/Ford=10000，B/Automatic/Diesel/SUV/BMW=20000
func fitScenario(t *testing.T) (*CategoricalEncoder, *Matrix) {
	t.Helper()
	enc := NewCategoricalEncoder()
	rows := []Row{
		listing("A", "Manual", "Petrol", "SUV", "Ford"),
		listing("B", "Automatic", "Diesel", "SUV", "BMW"),
	}
	m, err := enc.FitTransform(rows, []float64{10000, 20000})
	if err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}
	return enc, m
}

func TestFitTransform_Scenario(t *testing.T) {
	enc, m := fitScenario(t)

	wantColumns := []string{
		ColumnMileage, ColumnRegistrationYear, ColumnPreviousOwners, ColumnEngine,
		ColumnGearbox, ColumnDoors, ColumnSeats, ColumnEmissionClass,
		"title_encoded", "Fuel type_Diesel", "Brand_BMW",
	}
	if got := m.Columns(); !equalStrings(got, wantColumns) {
		t.Fatalf("columns = %v, want %v", got, wantColumns)
	}
	if m.Rows() != 2 {
		t.Fatalf("rows = %d, want 2", m.Rows())
	}

	state, err := enc.State()
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state.TargetMeans["A"] != 10000 || state.TargetMeans["B"] != 20000 {
		t.Errorf("target_means = %v", state.TargetMeans)
	}
	if state.GlobalMeanTarget != 15000 {
		t.Errorf("global_mean_target = %v, want 15000", state.GlobalMeanTarget)
	}

	gearbox, ok := enc.LabelEncoder(ColumnGearbox)
	if !ok {
		t.Fatal("missing Gearbox label encoder")
	}
	if code, _ := gearbox.Encode("Manual"); code != 0 {
		t.Errorf("Manual code = %d, want 0", code)
	}
	if code, _ := gearbox.Encode("Automatic"); code != 1 {
		t.Errorf("Automatic code = %d, want 1", code)
	}

	fuel, _ := enc.OneHotEncoder(ColumnFuelType)
	if fuel.Reference() != "Petrol" {
		t.Errorf("Fuel type reference = %q, want Petrol", fuel.Reference())
	}
	body, _ := enc.OneHotEncoder(ColumnBodyType)
	if body.Width() != 0 || len(body.FeatureNames()) != 0 {
		t.Errorf("Body type should emit no columns, got %v", body.FeatureNames())
	}

	checks := []struct {
		row  int
		col  string
		want float64
	}{
		{0, "title_encoded", 10000},
		{1, "title_encoded", 20000},
		{0, ColumnGearbox, 0},
		{1, ColumnGearbox, 1},
		{0, "Fuel type_Diesel", 0},
		{1, "Fuel type_Diesel", 1},
		{0, "Brand_BMW", 0},
		{1, "Brand_BMW", 1},
		{0, ColumnMileage, 42000},
		{0, ColumnEmissionClass, 6},
	}
	for _, c := range checks {
		got, ok := m.At(c.row, c.col)
		if !ok {
			t.Errorf("column %q not found", c.col)
			continue
		}
		if got != c.want {
			t.Errorf("row %d %q = %v, want %v", c.row, c.col, got, c.want)
		}
	}
}

func TestTransform_Scenario(t *testing.T) {
	enc, _ := fitScenario(t)

	m, report, err := enc.TransformWithReport([]Row{listing("C", "Manual", "Diesel", "SUV", "Ford")})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := map[string]float64{
		"title_encoded":    15000,
		ColumnGearbox:      0,
		"Fuel type_Diesel": 1,
		"Brand_BMW":        0,
	}
	row := m.RowMap(0)
	for col, v := range want {
		if row[col] != v {
			t.Errorf("%q = %v, want %v", col, row[col], v)
		}
	}
	if _, ok := row["Brand_Ford"]; ok {
		t.Error("reference category Ford must not produce a column")
	}
	if report.Fallbacks[ColumnTitle] != 1 {
		t.Errorf("title fallbacks = %d, want 1", report.Fallbacks[ColumnTitle])
	}
}

func TestTransform_ColumnStability(t *testing.T) {
	enc, fitted := fitScenario(t)

	tests := []struct {
		name string
		rows []Row
	}{
		{"seen values", []Row{listing("A", "Manual", "Petrol", "SUV", "Ford")}},
		{"unseen nominal values", []Row{listing("Z", "Automatic", "Electric", "Coupe", "Tesla")}},
		{"multi row mixed", []Row{
			listing("B", "Automatic", "Diesel", "SUV", "BMW"),
			listing("Q", "Manual", "Hybrid", "Estate", "Audi"),
			listing("A", "Manual", "Petrol", "Saloon", "Ford"),
		}},
		{"empty input", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := enc.Transform(tt.rows)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if !equalStrings(m.Columns(), fitted.Columns()) {
				t.Errorf("columns = %v, want %v", m.Columns(), fitted.Columns())
			}
			if m.Rows() != len(tt.rows) {
				t.Errorf("rows = %d, want %d", m.Rows(), len(tt.rows))
			}
		})
	}
}

func TestTransform_UnseenTitleUsesMeanOfMeans(t *testing.T) {
	enc := NewCategoricalEncoder()
	rows := []Row{
		listing("A", "Manual", "Petrol", "SUV", "Ford"),
		listing("A", "Manual", "Petrol", "SUV", "Ford"),
		listing("A", "Manual", "Petrol", "SUV", "Ford"),
		listing("B", "Manual", "Petrol", "SUV", "Ford"),
	}
	if _, err := enc.FitTransform(rows, []float64{1000, 2000, 3000, 10000}); err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}

	m, err := enc.Transform([]Row{listing("never-seen", "Manual", "Petrol", "SUV", "Ford")})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	// 均值的均值：(2000 + 10000) / 2，而不是原始目标均值 4000
	got, _ := m.At(0, "title_encoded")
	if got != 6000 {
		t.Errorf("title_encoded = %v, want 6000", got)
	}
}

func TestTransform_ReferenceAndUnseenAreAllZero(t *testing.T) {
	enc := NewCategoricalEncoder()
	rows := []Row{
		listing("A", "Manual", "Petrol", "Hatchback", "Ford"),
		listing("B", "Manual", "Diesel", "SUV", "BMW"),
		listing("C", "Manual", "Petrol Hybrid", "Saloon", "Audi"),
	}
	if _, err := enc.FitTransform(rows, []float64{1, 2, 3}); err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}

	m, err := enc.Transform([]Row{
		listing("A", "Manual", "Petrol", "Hatchback", "Ford"),
		listing("A", "Manual", "Hydrogen", "Pickup", "Kia"),
	})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	for _, col := range []string{"Fuel type_Diesel", "Fuel type_Petrol Hybrid", "Body type_SUV", "Body type_Saloon", "Brand_BMW", "Brand_Audi"} {
		for i := 0; i < 2; i++ {
			if v, ok := m.At(i, col); !ok || v != 0 {
				t.Errorf("row %d %q = %v (found=%v), want 0", i, col, v, ok)
			}
		}
	}
}

func TestLabelEncoder_RoundTrip(t *testing.T) {
	le := FitLabelEncoder(ColumnGearbox, []string{"Manual", "Automatic", "Manual", "Semi-Auto"})
	for _, class := range le.Classes() {
		code, err := le.Encode(class)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", class, err)
		}
		got, ok := le.Decode(code)
		if !ok || got != class {
			t.Errorf("Decode(Encode(%q)) = %q, %v", class, got, ok)
		}
	}
	if _, ok := le.Decode(99); ok {
		t.Error("Decode(99) should fail")
	}
}

func TestTransform_Errors(t *testing.T) {
	enc, _ := fitScenario(t)

	missing := listing("A", "Manual", "Petrol", "SUV", "Ford")
	delete(missing, ColumnBrand)
	notNumeric := listing("A", "Manual", "Petrol", "SUV", "Ford")
	notNumeric[ColumnMileage] = "a lot"

	tests := []struct {
		name    string
		rows    []Row
		wantErr error
		column  string
	}{
		{"unknown gearbox", []Row{listing("A", "CVT", "Petrol", "SUV", "Ford")}, core.ErrUnknownCategory, ColumnGearbox},
		{"missing brand", []Row{missing}, core.ErrMissingColumn, ColumnBrand},
		{"non numeric mileage", []Row{notNumeric}, core.ErrInvalidValue, ColumnMileage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Transform(tt.rows)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Transform() error = %v, want %v", err, tt.wantErr)
			}
			if de := core.GetDomainError(err); de == nil || de.Column != tt.column {
				t.Errorf("error column = %+v, want %q", de, tt.column)
			}
		})
	}

	if _, err := NewCategoricalEncoder().Transform([]Row{listing("A", "Manual", "Petrol", "SUV", "Ford")}); !errors.Is(err, core.ErrEncoderNotFitted) {
		t.Errorf("unfitted Transform() error = %v, want ErrEncoderNotFitted", err)
	}
}

func TestFitTransform_InvalidTrainingData(t *testing.T) {
	noGearbox := listing("A", "Manual", "Petrol", "SUV", "Ford")
	delete(noGearbox, ColumnGearbox)

	tests := []struct {
		name    string
		rows    []Row
		targets []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []Row{listing("A", "Manual", "Petrol", "SUV", "Ford")}, []float64{1, 2}},
		{"missing required column", []Row{noGearbox}, []float64{1}},
		{"nan target", []Row{listing("A", "Manual", "Petrol", "SUV", "Ford")}, []float64{math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewCategoricalEncoder()
			if _, err := enc.FitTransform(tt.rows, tt.targets); !errors.Is(err, core.ErrInvalidTrainingData) {
				t.Fatalf("FitTransform() error = %v, want ErrInvalidTrainingData", err)
			}
			if enc.Fitted() {
				t.Error("failed fit must not leave state behind")
			}
		})
	}
}

func TestFitTransform_WriteOnce(t *testing.T) {
	enc, _ := fitScenario(t)
	before := enc.FeatureNames()

	_, err := enc.FitTransform([]Row{listing("X", "CVT", "LPG", "Van", "Fiat")}, []float64{1})
	if !errors.Is(err, core.ErrAlreadyFitted) {
		t.Fatalf("second FitTransform() error = %v, want ErrAlreadyFitted", err)
	}
	if !equalStrings(before, enc.FeatureNames()) {
		t.Error("feature order changed after rejected refit")
	}
}

func TestEncoderState_RoundTrip(t *testing.T) {
	enc, _ := fitScenario(t)
	state, _ := enc.State()

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	var decoded EncoderState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	restored, err := NewEncoderFromState(decoded)
	if err != nil {
		t.Fatalf("NewEncoderFromState() error = %v", err)
	}

	rows := []Row{
		listing("A", "Automatic", "Diesel", "SUV", "BMW"),
		listing("new", "Manual", "Electric", "MPV", "Ford"),
	}
	want, _ := enc.Transform(rows)
	got, err := restored.Transform(rows)
	if err != nil {
		t.Fatalf("restored Transform() error = %v", err)
	}
	if !equalStrings(got.Columns(), want.Columns()) {
		t.Fatalf("columns = %v, want %v", got.Columns(), want.Columns())
	}
	for i := 0; i < want.Rows(); i++ {
		w, g := want.Row(i), got.Row(i)
		for j := range w {
			if w[j] != g[j] {
				t.Errorf("row %d col %d = %v, want %v", i, j, g[j], w[j])
			}
		}
	}
	if restored.Fingerprint() != enc.Fingerprint() {
		t.Errorf("fingerprint = %s, want %s", restored.Fingerprint(), enc.Fingerprint())
	}
}

func TestNewEncoderFromState_RejectsTamperedOrder(t *testing.T) {
	enc, _ := fitScenario(t)
	state, _ := enc.State()
	n := len(state.FeatureNames)
	state.FeatureNames[n-1], state.FeatureNames[n-2] = state.FeatureNames[n-2], state.FeatureNames[n-1]

	if _, err := NewEncoderFromState(state); err == nil {
		t.Fatal("expected error for reordered feature names")
	}
}

func TestNewEncoderFromState_RejectsInconsistentGlobalMean(t *testing.T) {
	enc, _ := fitScenario(t)

	tests := []struct {
		name   string
		mutate func(*EncoderState)
	}{
		{"stale global mean", func(s *EncoderState) { s.GlobalMeanTarget = 99 }},
		{"non-finite global mean", func(s *EncoderState) { s.GlobalMeanTarget = math.NaN() }},
		{"non-finite title mean", func(s *EncoderState) { s.TargetMeans["A"] = math.Inf(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := enc.State()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(&state)
			if _, err := NewEncoderFromState(state); err == nil {
				t.Fatal("expected error for inconsistent target state")
			}
		})
	}

	state, _ := enc.State()
	restored, err := NewEncoderFromState(state)
	if err != nil {
		t.Fatalf("NewEncoderFromState() error = %v", err)
	}
	m, err := restored.Transform([]Row{listing("C", "Manual", "Petrol", "SUV", "Ford")})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := m.At(0, "title_encoded"); got != 15000 {
		t.Errorf("unseen title after restore = %v, want 15000", got)
	}
}

func TestEncoder_RejectsDuplicateOutputColumns(t *testing.T) {
	schema := CarListingSchema()
	schema.Columns = append(schema.Columns, "Brand_BMW")
	enc := NewCategoricalEncoder(WithSchema(schema))

	a := listing("A", "Manual", "Petrol", "SUV", "Ford")
	b := listing("B", "Automatic", "Diesel", "SUV", "BMW")
	a["Brand_BMW"], b["Brand_BMW"] = 0.0, 1.0

	_, err := enc.FitTransform([]Row{a, b}, []float64{10000, 20000})
	if !errors.Is(err, core.ErrInvalidTrainingData) {
		t.Fatalf("FitTransform() error = %v, want INVALID_TRAINING_DATA", err)
	}
	if de := core.GetDomainError(err); de == nil || de.Column != "Brand_BMW" {
		t.Errorf("error column = %+v", de)
	}
	if enc.Fitted() {
		t.Error("encoder must stay unfitted after rejected fit")
	}

	fitted, _ := fitScenario(t)
	state, _ := fitted.State()
	state.Schema.Columns = append(state.Schema.Columns, "Brand_BMW")
	state.FeatureNames = append(state.FeatureNames[:len(state.FeatureNames):len(state.FeatureNames)], "Brand_BMW")
	_, err = NewEncoderFromState(state)
	if err == nil || !strings.Contains(err.Error(), "produced twice") {
		t.Fatalf("NewEncoderFromState() error = %v, want duplicate column error", err)
	}
}

func TestTransform_Concurrent(t *testing.T) {
	enc, fitted := fitScenario(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := enc.Transform([]Row{listing("B", "Automatic", "Diesel", "SUV", "BMW")})
			if err != nil {
				errs <- err
				return
			}
			if !equalStrings(m.Columns(), fitted.Columns()) {
				errs <- errors.New("column order drift")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
