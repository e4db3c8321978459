package file

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"github.com/spf13/cast"

	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/table"
)

// Format is a tabular file encoding
type Format string

const (
	CSV   Format = "csv"
	JSON  Format = "json"
	JSONL Format = "jsonl"
	Avro  Format = "avro"
)

// ParseFormat validates a format name. The empty string is CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return CSV, nil
	case "ndjson":
		return JSONL, nil
	case CSV, JSON, JSONL, Avro:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", s)
	}
}

// DetectFormat infers the format from path, ignoring a compression suffix.
// Unknown extensions yield CSV.
func DetectFormat(path string) Format {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(compression.Strip(path))), ".")
	f, err := ParseFormat(ext)
	if err != nil {
		return CSV
	}
	return f
}

// Decode reads a whole table in format f from r
func Decode(r io.Reader, f Format) (*table.Frame, error) {
	switch f {
	case CSV:
		return decodeCSV(r)
	case JSON:
		var payload interface{}
		if err := json.NewDecoder(r).Decode(&payload); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		return table.Normalize(payload)
	case JSONL:
		return decodeJSONL(r)
	case Avro:
		return decodeAvro(r)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f)
	}
}

// Encode writes frame to w in format f
func Encode(w io.Writer, frame *table.Frame, f Format) error {
	switch f {
	case CSV:
		header, rows := frame.StringRows()
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	case JSON:
		return json.NewEncoder(w).Encode(frame.Records())
	case JSONL:
		enc := json.NewEncoder(w)
		for _, rec := range frame.Records() {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	case Avro:
		return encodeAvro(w, frame)
	default:
		return fmt.Errorf("unsupported file format: %s", f)
	}
}

func decodeCSV(r io.Reader) (*table.Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to decode csv: %w", err)
	}
	if len(records) == 0 {
		return table.New(0), nil
	}
	return table.FromStringRows(records[0], records[1:]), nil
}

func decodeJSONL(r io.Reader) (*table.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var records []map[string]interface{}
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return table.FromRecords(records), nil
}

func decodeAvro(r io.Reader) (*table.Frame, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open avro container: %w", err)
	}

	var records []map[string]interface{}
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read avro record: %w", err)
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("avro datum is %T, not a record", datum)
		}
		for k, v := range rec {
			rec[k] = unwrapUnion(v)
		}
		records = append(records, rec)
	}
	if err := ocf.Err(); err != nil {
		return nil, err
	}
	return table.FromRecords(records), nil
}

// unwrapUnion turns goavro's {"type": value} union encoding into value
func unwrapUnion(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok && len(m) == 1 {
		for _, inner := range m {
			return inner
		}
	}
	return v
}

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// avroName makes a column name a valid avro field name
func avroName(col string) string {
	name := invalidAvroName.ReplaceAllString(col, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

// avroType infers the narrowest avro primitive that holds every value
func avroType(values []interface{}) string {
	typ := ""
	for _, v := range values {
		var t string
		switch v.(type) {
		case nil:
			continue
		case bool:
			t = "boolean"
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			t = "long"
		case float32, float64:
			t = "double"
		default:
			return "string"
		}
		switch {
		case typ == "" || typ == t:
			typ = t
		case (typ == "long" && t == "double") || (typ == "double" && t == "long"):
			typ = "double"
		default:
			return "string"
		}
	}
	if typ == "" {
		return "string"
	}
	return typ
}

func encodeAvro(w io.Writer, frame *table.Frame) error {
	cols := frame.Columns()
	names := make([]string, len(cols))
	types := make([]string, len(cols))
	fields := make([]map[string]interface{}, len(cols))
	for i, c := range cols {
		values, _ := frame.Column(c)
		names[i] = avroName(c)
		types[i] = avroType(values)
		fields[i] = map[string]interface{}{
			"name":    names[i],
			"type":    []interface{}{"null", types[i]},
			"default": nil,
		}
	}
	schema, err := json.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   "Row",
		"fields": fields,
	})
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(string(schema))
	if err != nil {
		return fmt.Errorf("failed to build avro schema: %w", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: codec})
	if err != nil {
		return fmt.Errorf("failed to create avro writer: %w", err)
	}

	rows := make([]interface{}, 0, frame.Rows())
	for _, rec := range frame.Records() {
		datum := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			v := rec[c]
			if v == nil {
				datum[names[i]] = nil
				continue
			}
			switch types[i] {
			case "boolean":
				datum[names[i]] = goavro.Union("boolean", cast.ToBool(v))
			case "long":
				datum[names[i]] = goavro.Union("long", cast.ToInt64(v))
			case "double":
				datum[names[i]] = goavro.Union("double", cast.ToFloat64(v))
			default:
				datum[names[i]] = goavro.Union("string", cast.ToString(v))
			}
		}
		rows = append(rows, datum)
	}
	return ocf.Append(rows)
}
