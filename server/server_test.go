package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/config"
	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/model"
	"github.com/rushteam/carprice/pkg/dsl"
)

type failingModel struct{}

func (failingModel) Name() string { return "failing" }
func (failingModel) Predict(context.Context, *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	return nil, errors.New("upstream exploded")
}
func (failingModel) Health(context.Context) error { return nil }
func (failingModel) Close(context.Context) error  { return nil }

func init() {
	model.Register("failing", func(model.Spec, []string) (core.MLService, error) { return failingModel{}, nil })
}

func trainingRow(title, gearbox, fuel, body, brand string) feature.Row {
	return feature.Row{
		feature.ColumnTitle:            title,
		feature.ColumnMileage:          30000.0,
		feature.ColumnRegistrationYear: 2018.0,
		feature.ColumnPreviousOwners:   2.0,
		feature.ColumnFuelType:         fuel,
		feature.ColumnBodyType:         body,
		feature.ColumnEngine:           1.5,
		feature.ColumnGearbox:          gearbox,
		feature.ColumnDoors:            5.0,
		feature.ColumnSeats:            5.0,
		feature.ColumnEmissionClass:    6.0,
		feature.ColumnBrand:            brand,
	}
}

// loadedHolder 返回已加载模型包的 Holder：
// price = title_encoded + 100 * Previous Owners
func loadedHolder(t *testing.T, modelType string) *bundle.Holder {
	t.Helper()
	enc := feature.NewCategoricalEncoder()
	_, err := enc.FitTransform([]feature.Row{
		trainingRow("A", "Manual", "Petrol", "SUV", "Ford"),
		trainingRow("B", "Automatic", "Diesel", "SUV", "BMW"),
	}, []float64{10000, 20000})
	require.NoError(t, err)

	coefs := make(map[string]float64)
	for _, name := range enc.FeatureNames() {
		coefs[name] = 0
	}
	coefs["title_encoded"] = 1
	coefs[feature.ColumnPreviousOwners] = 100

	b, err := bundle.New(enc, model.Spec{Type: modelType, Coefficients: coefs}, "test-1")
	require.NoError(t, err)
	data, err := bundle.Encode(b, false)
	require.NoError(t, err)

	h := bundle.NewHolder(bundle.LoaderFunc(func(context.Context, string) ([]byte, error) {
		return data, nil
	}), "test")
	_, err = h.Reload(context.Background())
	require.NoError(t, err)
	return h
}

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.RateLimit = 0
	cfg.BatchChunkSize = 2
	cfg.BatchMaxRows = 10
	cfg.AdminToken = "secret"
	return cfg
}

func carJSON(overrides map[string]any) map[string]any {
	body := map[string]any{
		"title":             "A",
		"Mileage_miles":     42000,
		"Registration_Year": 2017,
		"Fuel_type":         "Diesel",
		"Body_type":         "SUV",
		"Engine":            2.0,
		"Gearbox":           "Manual",
		"Doors":             5,
		"Seats":             5,
		"Emission_Class":    6,
		"Brand":             "Ford",
	}
	for k, v := range overrides {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	return body
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPredict(t *testing.T) {
	router := New(testConfig(), loadedHolder(t, model.TypeLinear)).Router()

	tests := []struct {
		name      string
		overrides map[string]any
		want      float64
	}{
		{"seen title, owners defaulted to 1", nil, 10000 + 100},
		{"explicit owners", map[string]any{"Previous_Owners": 3}, 10000 + 300},
		{"unseen title falls back to mean of means", map[string]any{"title": "Z"}, 15000 + 100},
		{"unseen one-hot values encode as reference", map[string]any{"Fuel_type": "Electric", "Brand": "Tesla"}, 10000 + 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/predict", carJSON(tt.overrides))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decode[PredictResponse](t, rec)
			assert.InDelta(t, tt.want, resp.PredictedPrice, 1e-9)
			assert.Equal(t, "success", resp.Status)
			assert.Regexp(t, `^\d+\.\d{2}$`, resp.PredictedPriceFormatted)
		})
	}
}

func TestPredict_Errors(t *testing.T) {
	rules, err := dsl.Compile([]dsl.Rule{{Name: "engine_range", Expr: `row.Engine < 8.0`}})
	require.NoError(t, err)
	router := New(testConfig(), loadedHolder(t, model.TypeLinear), WithRules(rules)).Router()

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
		wantColumn string
	}{
		{"missing required field", carJSON(map[string]any{"Gearbox": nil}), http.StatusBadRequest, "", ""},
		{"negative mileage", carJSON(map[string]any{"Mileage_miles": -5}), http.StatusBadRequest, "", ""},
		{"wrong type", carJSON(map[string]any{"Engine": "big"}), http.StatusBadRequest, "", ""},
		{"unknown gearbox", carJSON(map[string]any{"Gearbox": "CVT"}), http.StatusUnprocessableEntity, core.ErrorCodeUnknownCategory, feature.ColumnGearbox},
		{"rule violation", carJSON(map[string]any{"Engine": 9.5}), http.StatusUnprocessableEntity, core.ErrorCodeRuleViolation, "engine_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/predict", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Details)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantColumn, resp.Column)
		})
	}
}

func TestPredict_NoBundle(t *testing.T) {
	h := bundle.NewHolder(bundle.FileLoader{}, "/nonexistent")
	router := New(testConfig(), h).Router()

	rec := do(t, router, http.MethodPost, "/predict", carJSON(nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredict_ModelFailure(t *testing.T) {
	router := New(testConfig(), loadedHolder(t, "failing")).Router()
	rec := do(t, router, http.MethodPost, "/predict", carJSON(nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
}

func TestPredictBatch(t *testing.T) {
	router := New(testConfig(), loadedHolder(t, model.TypeLinear)).Router()

	titles := []string{"A", "B", "Z", "B", "A"}
	instances := make([]any, 0, len(titles))
	for _, title := range titles {
		instances = append(instances, carJSON(map[string]any{"title": title}))
	}
	raw := map[string]any{"instances": instances}

	rec := do(t, router, http.MethodPost, "/predict/batch", raw)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BatchResponse](t, rec)
	assert.Equal(t, []float64{10100, 20100, 15100, 20100, 10100}, resp.Predictions)
	assert.Equal(t, len(titles), resp.Count)

	many := make([]any, 11)
	for i := range many {
		many[i] = carJSON(nil)
	}
	rec = do(t, router, http.MethodPost, "/predict/batch", map[string]any{"instances": many})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := map[string]any{"instances": []any{carJSON(nil), carJSON(nil), carJSON(map[string]any{"Gearbox": "CVT"})}}
	rec = do(t, router, http.MethodPost, "/predict/batch", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "instances 2-2")
}

func TestCategoriesAndMetadata(t *testing.T) {
	router := New(testConfig(), loadedHolder(t, model.TypeLinear)).Router()

	rec := do(t, router, http.MethodGet, "/get_categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode[feature.Categories](t, rec)
	assert.Equal(t, []string{"Manual", "Automatic"}, cats.GearboxTypes)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, cats.EmissionClasses)

	rec = do(t, router, http.MethodGet, "/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[feature.FeatureMetadata](t, rec)
	assert.Contains(t, meta.FeatureColumns, "title_encoded")
	assert.Equal(t, "Ford", meta.Reference[feature.ColumnBrand])

	rec = do(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminReload(t *testing.T) {
	router := New(testConfig(), loadedHolder(t, model.TypeLinear)).Router()

	rec := do(t, router, http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/admin/reload", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg := testConfig()
	cfg.AdminToken = ""
	rec = do(t, New(cfg, loadedHolder(t, model.TypeLinear)).Router(), http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCarFeatures_ToRow(t *testing.T) {
	mileage, year, engine, doors, seats, emission := 12000.0, 2020, 1.2, 3.0, 4.0, 5
	c := CarFeatures{
		Title: "Fiat 500", MileageMiles: &mileage, RegistrationYear: &year,
		FuelType: "Petrol", BodyType: "Hatchback", Engine: &engine, Gearbox: "Manual",
		Doors: &doors, Seats: &seats, EmissionClass: &emission, Brand: "Fiat",
	}
	row := c.ToRow()
	assert.Equal(t, 12000.0, row[feature.ColumnMileage])
	assert.Equal(t, DefaultPreviousOwners, row[feature.ColumnPreviousOwners])
	assert.Equal(t, "Petrol", row[feature.ColumnFuelType])
	assert.Equal(t, "Hatchback", row[feature.ColumnBodyType])
	assert.Equal(t, 5.0, row[feature.ColumnEmissionClass])
	for _, col := range feature.CarListingSchema().Columns {
		assert.Contains(t, row, col)
	}
}
