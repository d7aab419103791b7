package feature

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/pkg/conv"
)

// CategoricalEncoder 是车辆挂牌特征的编码管道：
//   - 目标编码：title -> title_encoded（未见标题回退到全局均值）
//   - Label 编码：Gearbox -> 整数编码（未见类别报 UNKNOWN_CATEGORY）
//   - One-Hot 编码：Fuel type / Body type / Brand，丢弃首个类别（未见类别编码为全 0）
//   - 数值列原样直通
//
// 状态只在 FitTransform 中写入一次，之后所有 Transform 共享同一份只读状态，
// 因此 Transform 可以并发调用且无需加锁。重新训练需要创建新的编码器。
type CategoricalEncoder struct {
	schema Schema
	fitted atomic.Pointer[fittedState]
}

// EncoderOption 编码器配置选项
type EncoderOption func(*CategoricalEncoder)

// WithSchema 设置 Schema（默认 CarListingSchema）
func WithSchema(schema Schema) EncoderOption {
	return func(e *CategoricalEncoder) {
		e.schema = schema.clone()
	}
}

// NewCategoricalEncoder 创建未拟合的编码器
func NewCategoricalEncoder(opts ...EncoderOption) *CategoricalEncoder {
	e := &CategoricalEncoder{schema: CarListingSchema()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEncoderFromState 从持久化状态恢复编码器。
// 会根据词表重新推导输出列顺序并与状态中记录的 FeatureNames、Fingerprint 比对。
func NewEncoderFromState(state EncoderState) (*CategoricalEncoder, error) {
	st := state.Clone()
	if err := st.Schema.Validate(); err != nil {
		return nil, err
	}
	if len(st.TargetMeans) == 0 {
		return nil, corruptState("target_means is empty")
	}
	globalMean, err := meanOfMeans(st.TargetMeans)
	if err != nil {
		return nil, corruptState("target_means: %v", err)
	}
	if !closeTo(st.GlobalMeanTarget, globalMean) {
		return nil, corruptState("global_mean_target %v is not the mean of target_means (%v)", st.GlobalMeanTarget, globalMean)
	}

	labels := make(map[string]*LabelEncoder, len(st.Schema.LabelEncoded))
	for _, col := range st.Schema.LabelEncoded {
		vocab, ok := st.LabelVocabularies[col]
		if !ok || len(vocab) == 0 {
			return nil, corruptState("missing label vocabulary for %q", col)
		}
		if len(distinctInOrder(vocab)) != len(vocab) {
			return nil, corruptState("duplicate values in label vocabulary for %q", col)
		}
		labels[col] = newLabelEncoder(col, vocab)
	}

	oneHots := make([]*OneHotEncoder, 0, len(st.Schema.OneHot))
	for _, col := range st.Schema.OneHot {
		vocab, ok := st.OneHotVocabularies[col]
		if !ok || len(vocab) == 0 {
			return nil, corruptState("missing one-hot vocabulary for %q", col)
		}
		if len(distinctInOrder(vocab)) != len(vocab) {
			return nil, corruptState("duplicate values in one-hot vocabulary for %q", col)
		}
		oneHots = append(oneHots, newOneHotEncoder(col, vocab))
	}

	target := newTargetEncoderFromState(st.Schema.TargetEncoded, st.TargetMeans, globalMean)
	fs := newFittedState(st, target, labels, oneHots)
	fs.state.GlobalMeanTarget = globalMean

	if name, dup := duplicateName(fs.names); dup {
		return nil, corruptState("output column %q is produced twice", name)
	}

	if !equalStrings(fs.names, st.FeatureNames) {
		return nil, corruptState("feature_names do not match vocabularies: stored %v, derived %v", st.FeatureNames, fs.names)
	}
	if st.Fingerprint != "" && st.Fingerprint != FingerprintOf(fs.names) {
		return nil, corruptState("fingerprint mismatch")
	}
	fs.state.Fingerprint = FingerprintOf(fs.names)

	e := &CategoricalEncoder{schema: st.Schema.clone()}
	e.fitted.Store(fs)
	return e, nil
}

// FitTransform 在训练数据上拟合全部编码状态并返回编码后的训练矩阵。
// 这是唯一会写入编码器状态的操作，同一编码器只能调用一次。
func (e *CategoricalEncoder) FitTransform(rows []Row, targets []float64) (*Matrix, error) {
	if e.fitted.Load() != nil {
		return nil, core.ErrAlreadyFitted
	}
	if err := e.schema.Validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalidTraining("", "encoder: training rows are empty")
	}
	if len(rows) != len(targets) {
		return nil, invalidTraining("", "encoder: %d rows but %d targets", len(rows), len(targets))
	}

	// 1. 校验并收集类别列取值
	categorical := make(map[string][]string, 1+len(e.schema.LabelEncoded)+len(e.schema.OneHot))
	categoricalCols := append([]string{e.schema.TargetEncoded}, e.schema.LabelEncoded...)
	categoricalCols = append(categoricalCols, e.schema.OneHot...)
	for _, col := range categoricalCols {
		categorical[col] = make([]string, len(rows))
	}
	numericCols := e.schema.NumericColumns()

	for i, row := range rows {
		if math.IsNaN(targets[i]) || math.IsInf(targets[i], 0) {
			return nil, invalidTraining(e.schema.Target, "encoder: row %d: target is not finite", i)
		}
		for _, col := range categoricalCols {
			v, err := categoryValue(row, col)
			if err != nil {
				return nil, invalidTraining(col, "encoder: row %d: %v", i, err)
			}
			categorical[col][i] = v
		}
		for _, col := range numericCols {
			if _, err := numericValue(row, col); err != nil {
				return nil, invalidTraining(col, "encoder: row %d: %v", i, err)
			}
		}
	}

	// 2. 拟合目标编码、Label 编码、One-Hot 编码
	target := FitTargetEncoder(e.schema.TargetEncoded, categorical[e.schema.TargetEncoded], targets)
	if _, err := meanOfMeans(target.means); err != nil {
		return nil, invalidTraining(e.schema.Target, "encoder: %v", err)
	}
	labels := make(map[string]*LabelEncoder, len(e.schema.LabelEncoded))
	for _, col := range e.schema.LabelEncoded {
		labels[col] = FitLabelEncoder(col, categorical[col])
	}
	oneHots := make([]*OneHotEncoder, 0, len(e.schema.OneHot))
	for _, col := range e.schema.OneHot {
		oneHots = append(oneHots, FitOneHotEncoder(col, categorical[col]))
	}

	state := EncoderState{
		Schema:             e.schema.clone(),
		TargetMeans:        target.Means(),
		GlobalMeanTarget:   target.GlobalMean(),
		LabelVocabularies:  make(map[string][]string, len(labels)),
		OneHotVocabularies: make(map[string][]string, len(oneHots)),
		TrainingRows:       len(rows),
		TargetStats:        ComputeStatistics(targets),
		FittedAt:           time.Now().UTC(),
	}
	for col, le := range labels {
		state.LabelVocabularies[col] = le.Classes()
	}
	for _, oh := range oneHots {
		state.OneHotVocabularies[oh.Column()] = oh.Categories()
	}

	// 3. 固定输出列顺序并发布状态
	fs := newFittedState(state, target, labels, oneHots)
	if name, dup := duplicateName(fs.names); dup {
		return nil, invalidTraining(name, "encoder: output column %q is produced twice", name)
	}
	fs.state.FeatureNames = append([]string(nil), fs.names...)
	fs.state.Fingerprint = FingerprintOf(fs.names)
	if !e.fitted.CompareAndSwap(nil, fs) {
		return nil, core.ErrAlreadyFitted
	}

	m, _, err := fs.transform(rows)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Transform 使用已拟合的状态编码推理数据，输出列顺序与 FitTransform 完全一致
func (e *CategoricalEncoder) Transform(rows []Row) (*Matrix, error) {
	m, _, err := e.TransformWithReport(rows)
	return m, err
}

// TransformWithReport 与 Transform 相同，额外返回回退策略的使用情况
func (e *CategoricalEncoder) TransformWithReport(rows []Row) (*Matrix, *TransformReport, error) {
	fs := e.fitted.Load()
	if fs == nil {
		return nil, nil, core.ErrEncoderNotFitted
	}
	return fs.transform(rows)
}

// Fitted 返回编码器是否已拟合
func (e *CategoricalEncoder) Fitted() bool {
	return e.fitted.Load() != nil
}

// Schema 返回编码器使用的 Schema
func (e *CategoricalEncoder) Schema() Schema {
	return e.schema.clone()
}

// FeatureNames 返回输出列顺序，未拟合时返回 nil
func (e *CategoricalEncoder) FeatureNames() []string {
	fs := e.fitted.Load()
	if fs == nil {
		return nil
	}
	return append([]string(nil), fs.names...)
}

// Fingerprint 返回输出列顺序指纹，未拟合时返回空字符串
func (e *CategoricalEncoder) Fingerprint() string {
	fs := e.fitted.Load()
	if fs == nil {
		return ""
	}
	return fs.state.Fingerprint
}

// State 返回拟合状态的深拷贝（用于持久化）
func (e *CategoricalEncoder) State() (EncoderState, error) {
	fs := e.fitted.Load()
	if fs == nil {
		return EncoderState{}, core.ErrEncoderNotFitted
	}
	return fs.state.Clone(), nil
}

// TargetEncoder 返回目标编码器
func (e *CategoricalEncoder) TargetEncoder() (*TargetEncoder, bool) {
	fs := e.fitted.Load()
	if fs == nil {
		return nil, false
	}
	return fs.target, true
}

// LabelEncoder 返回指定列的 Label 编码器
func (e *CategoricalEncoder) LabelEncoder(column string) (*LabelEncoder, bool) {
	fs := e.fitted.Load()
	if fs == nil {
		return nil, false
	}
	le, ok := fs.labels[column]
	return le, ok
}

// OneHotEncoder 返回指定列的 One-Hot 编码器
func (e *CategoricalEncoder) OneHotEncoder(column string) (*OneHotEncoder, bool) {
	fs := e.fitted.Load()
	if fs == nil {
		return nil, false
	}
	for _, oh := range fs.oneHots {
		if oh.Column() == column {
			return oh, true
		}
	}
	return nil, false
}

// TransformReport 记录一次 Transform 中回退策略的使用情况
type TransformReport struct {
	Rows int
	// Fallbacks 列 -> 触发回退的行数（目标编码使用全局均值、One-Hot 未见类别编码为全 0）
	Fallbacks map[string]int
}

func (r *TransformReport) fallback(column string) {
	if r.Fallbacks == nil {
		r.Fallbacks = make(map[string]int)
	}
	r.Fallbacks[column]++
}

type slotKind int

const (
	slotNumeric slotKind = iota
	slotLabel
	slotTarget
	slotOneHot
)

// slot 是输出列计划中的一段：一个输入列占据 [offset, offset+width) 的输出列
type slot struct {
	kind   slotKind
	column string
	offset int
	width  int
	label  *LabelEncoder
	oneHot *OneHotEncoder
}

type fittedState struct {
	state   EncoderState
	target  *TargetEncoder
	labels  map[string]*LabelEncoder
	oneHots []*OneHotEncoder
	plan    []slot
	names   []string
	index   map[string]int
}

// newFittedState 推导输出列计划：
// 训练列顺序中去掉目标编码列与 One-Hot 源列（Label 列原位替换），随后追加 title_encoded，
// 最后按 Schema.OneHot 顺序追加各 One-Hot 列（参考类别除外）。
func newFittedState(state EncoderState, target *TargetEncoder, labels map[string]*LabelEncoder, oneHots []*OneHotEncoder) *fittedState {
	schema := state.Schema
	plan := make([]slot, 0, len(schema.Columns)+len(oneHots))
	names := make([]string, 0, len(schema.Columns)+len(oneHots))

	for _, col := range schema.Columns {
		switch {
		case col == schema.TargetEncoded, schema.isOneHot(col):
			continue
		case schema.isLabel(col):
			plan = append(plan, slot{kind: slotLabel, column: col, offset: len(names), width: 1, label: labels[col]})
		default:
			plan = append(plan, slot{kind: slotNumeric, column: col, offset: len(names), width: 1})
		}
		names = append(names, col)
	}

	plan = append(plan, slot{kind: slotTarget, column: schema.TargetEncoded, offset: len(names), width: 1})
	names = append(names, TargetEncodedName(schema.TargetEncoded))

	for _, oh := range oneHots {
		plan = append(plan, slot{kind: slotOneHot, column: oh.Column(), offset: len(names), width: oh.Width(), oneHot: oh})
		names = append(names, oh.FeatureNames()...)
	}

	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	return &fittedState{
		state:   state,
		target:  target,
		labels:  labels,
		oneHots: oneHots,
		plan:    plan,
		names:   names,
		index:   index,
	}
}

func duplicateName(names []string) (string, bool) {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return n, true
		}
		seen[n] = struct{}{}
	}
	return "", false
}

// closeTo 按相对误差比较，容忍不同求和顺序带来的舍入差异
func closeTo(a, b float64) bool {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return false
	}
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func (fs *fittedState) transform(rows []Row) (*Matrix, *TransformReport, error) {
	m := newMatrix(fs.names, fs.index, len(rows))
	report := &TransformReport{Rows: len(rows)}
	for i, row := range rows {
		if err := fs.encodeRow(row, m.rowView(i), report); err != nil {
			return nil, nil, atRow(err, i)
		}
	}
	return m, report, nil
}

func (fs *fittedState) encodeRow(row Row, dst []float64, report *TransformReport) error {
	for _, s := range fs.plan {
		out := dst[s.offset : s.offset+s.width]
		switch s.kind {
		case slotNumeric:
			v, err := numericValue(row, s.column)
			if err != nil {
				return err
			}
			out[0] = v
		case slotLabel:
			v, err := categoryValue(row, s.column)
			if err != nil {
				return err
			}
			code, err := s.label.Encode(v)
			if err != nil {
				return err
			}
			out[0] = float64(code)
		case slotTarget:
			v, err := categoryValue(row, s.column)
			if err != nil {
				return err
			}
			encoded, seen := fs.target.Encode(v)
			if !seen {
				report.fallback(s.column)
			}
			out[0] = encoded
		case slotOneHot:
			v, err := categoryValue(row, s.column)
			if err != nil {
				return err
			}
			if !s.oneHot.EncodeInto(out, v) {
				report.fallback(s.column)
			}
		}
	}
	return nil
}

func categoryValue(row Row, column string) (string, error) {
	v, ok := row[column]
	if !ok || v == nil {
		return "", missingColumn(column)
	}
	return conv.ToCategory(v), nil
}

func numericValue(row Row, column string) (float64, error) {
	v, ok := row[column]
	if !ok || v == nil {
		return 0, missingColumn(column)
	}
	f, ok := conv.ParseFloat64(v)
	if !ok {
		return 0, core.NewColumnError(core.ModuleEncoder, core.ErrorCodeInvalidValue, column,
			"encoder: column %q is not numeric: %v", column, v)
	}
	return f, nil
}

func missingColumn(column string) error {
	return core.NewColumnError(core.ModuleEncoder, core.ErrorCodeMissingColumn, column,
		"encoder: missing column %q", column)
}

func invalidTraining(column, format string, args ...any) error {
	return core.NewColumnError(core.ModuleEncoder, core.ErrorCodeInvalidTrainingData, column, format, args...)
}

// atRow 在错误消息前加上行号，保留 Code 与 Column
func atRow(err error, i int) error {
	domainErr := core.GetDomainError(err)
	if domainErr == nil {
		return fmt.Errorf("row %d: %w", i, err)
	}
	return &core.DomainError{
		Module:  domainErr.Module,
		Code:    domainErr.Code,
		Column:  domainErr.Column,
		Message: fmt.Sprintf("row %d: %s", i, domainErr.Message),
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
