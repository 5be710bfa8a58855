package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/pdpsim/internal/models"
)

// column binds one Arrow field to a Record field.
type column struct {
	field arrow.Field
	put   func(b array.Builder, r *models.Record)
	get   func(a arrow.Array, i int, r *models.Record)
}

func intColumn(name string, get func(*models.Record) int, set func(*models.Record, int)) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64},
		put:   func(b array.Builder, r *models.Record) { b.(*array.Int64Builder).Append(int64(get(r))) },
		get:   func(a arrow.Array, i int, r *models.Record) { set(r, int(a.(*array.Int64).Value(i))) },
	}
}

func floatColumn(name string, ref func(*models.Record) *float64) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64},
		put:   func(b array.Builder, r *models.Record) { b.(*array.Float64Builder).Append(*ref(r)) },
		get:   func(a arrow.Array, i int, r *models.Record) { *ref(r) = a.(*array.Float64).Value(i) },
	}
}

func nullableColumn(name string, ref func(*models.Record) **float64) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		put: func(b array.Builder, r *models.Record) {
			fb := b.(*array.Float64Builder)
			if v := *ref(r); v != nil {
				fb.Append(*v)
			} else {
				fb.AppendNull()
			}
		},
		get: func(a arrow.Array, i int, r *models.Record) {
			if a.IsNull(i) {
				*ref(r) = nil
				return
			}
			*ref(r) = models.Float(a.(*array.Float64).Value(i))
		},
	}
}

func stringColumn(name string, get func(*models.Record) string, set func(*models.Record, string)) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.BinaryTypes.String},
		put:   func(b array.Builder, r *models.Record) { b.(*array.StringBuilder).Append(get(r)) },
		get:   func(a arrow.Array, i int, r *models.Record) { set(r, a.(*array.String).Value(i)) },
	}
}

func boolColumn(name string, ref func(*models.Record) *bool) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Boolean},
		put:   func(b array.Builder, r *models.Record) { b.(*array.BooleanBuilder).Append(*ref(r)) },
		get:   func(a arrow.Array, i int, r *models.Record) { *ref(r) = a.(*array.Boolean).Value(i) },
	}
}

// recordColumns uses the JSON key of every Record field as its column name.
var recordColumns = []column{
	intColumn("step", func(r *models.Record) int { return r.Step }, func(r *models.Record, v int) { r.Step = v }),
	stringColumn("pdp", func(r *models.Record) string { return r.PDP }, func(r *models.Record, v string) { r.PDP = v }),
	intColumn("user_id", func(r *models.Record) int { return r.UserID }, func(r *models.Record, v int) { r.UserID = v }),
	stringColumn("user_type", func(r *models.Record) string { return string(r.UserType) }, func(r *models.Record, v string) { r.UserType = models.UserType(v) }),
	floatColumn("base_risk", func(r *models.Record) *float64 { return &r.BaseRisk }),
	intColumn("device_id", func(r *models.Record) int { return r.DeviceID }, func(r *models.Record, v int) { r.DeviceID = v }),
	stringColumn("service", func(r *models.Record) string { return r.Service }, func(r *models.Record, v string) { r.Service = v }),
	floatColumn("amount", func(r *models.Record) *float64 { return &r.Amount }),
	stringColumn("geo", func(r *models.Record) string { return r.Geo }, func(r *models.Record, v string) { r.Geo = v }),
	intColumn("hour", func(r *models.Record) int { return r.Hour }, func(r *models.Record, v int) { r.Hour = v }),
	stringColumn("channel", func(r *models.Record) string { return string(r.Channel) }, func(r *models.Record, v string) { r.Channel = models.Channel(v) }),
	boolColumn("is_attack", func(r *models.Record) *bool { return &r.IsAttack }),
	intColumn("scenario", func(r *models.Record) int { return int(r.Scenario) }, func(r *models.Record, v int) { r.Scenario = models.Scenario(v) }),
	boolColumn("allowed", func(r *models.Record) *bool { return &r.Allowed }),
	stringColumn("action", func(r *models.Record) string { return string(r.Action) }, func(r *models.Record, v string) { r.Action = models.Action(v) }),
	stringColumn("reason", func(r *models.Record) string { return r.Reason }, func(r *models.Record, v string) { r.Reason = v }),
	floatColumn("risk", func(r *models.Record) *float64 { return &r.Risk }),
	nullableColumn("theta", func(r *models.Record) **float64 { return &r.Theta }),
	nullableColumn("drift_risk", func(r *models.Record) **float64 { return &r.Drift }),
	nullableColumn("I_u", func(r *models.Record) **float64 { return &r.IdentityBefore }),
	nullableColumn("new_I", func(r *models.Record) **float64 { return &r.IdentityAfter }),
	nullableColumn("D_d", func(r *models.Record) **float64 { return &r.DeviceBefore }),
	nullableColumn("new_D", func(r *models.Record) **float64 { return &r.DeviceAfter }),
	nullableColumn("device_score", func(r *models.Record) **float64 { return &r.DeviceScore }),
	stringColumn("risk_factors", func(r *models.Record) string { return r.Factors }, func(r *models.Record, v string) { r.Factors = v }),
}

// RecordSchema is the Arrow schema of a decision log.
var RecordSchema = func() *arrow.Schema {
	fields := make([]arrow.Field, len(recordColumns))
	for i, c := range recordColumns {
		fields[i] = c.field
	}
	return arrow.NewSchema(fields, nil)
}()

// WriteArrow writes records as a single-batch Arrow IPC file.
func WriteArrow(path string, records []models.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, RecordSchema)
	defer b.Release()
	for i := range records {
		for j, c := range recordColumns {
			c.put(b.Field(j), &records[i])
		}
	}
	batch := b.NewRecord()
	defer batch.Release()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(RecordSchema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("create arrow writer: %w", err)
	}
	if err := w.Write(batch); err != nil {
		w.Close()
		return fmt.Errorf("write arrow batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish arrow file: %w", err)
	}
	return nil
}

// ReadArrow reads a decision log written by WriteArrow.
func ReadArrow(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow file %s: %w", path, err)
	}
	defer r.Close()

	if !r.Schema().Equal(RecordSchema) {
		return nil, fmt.Errorf("%s: unexpected schema %s", path, r.Schema())
	}

	var out []models.Record
	for n := range r.NumRecords() {
		batch, err := r.Record(n)
		if err != nil {
			return nil, fmt.Errorf("read batch %d of %s: %w", n, path, err)
		}
		rows := int(batch.NumRows())
		start := len(out)
		out = append(out, make([]models.Record, rows)...)
		for j, c := range recordColumns {
			col := batch.Column(j)
			for i := range rows {
				c.get(col, i, &out[start+i])
			}
		}
	}
	return out, nil
}
