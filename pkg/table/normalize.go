package table

import (
	"github.com/ajitpratap0/relay/pkg/errors"
)

// rowKeys are the conventional keys under which APIs nest their rows
var rowKeys = []string{"items", "records", "data"}

// ErrNoData is the message of the extraction error returned for empty input
const ErrNoData = "No data extracted from source"

// Normalize converts an extracted payload into a Frame. Accepted shapes:
//
//   - *Frame
//   - a list of row objects ([]map[string]interface{} or []interface{} of maps)
//   - an object nesting such a list under "items", "records" or "data"
//   - a single object, which becomes one row
//
// Nil or empty input is an extraction error.
func Normalize(payload interface{}) (*Frame, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.Extraction(nil, ErrNoData)
	case *Frame:
		if v == nil || v.Rows() == 0 {
			return nil, errors.Extraction(nil, ErrNoData)
		}
		return v, nil
	case []map[string]interface{}:
		if len(v) == 0 {
			return nil, errors.Extraction(nil, ErrNoData)
		}
		return FromRecords(v), nil
	case []interface{}:
		return fromList(v)
	case map[string]interface{}:
		for _, key := range rowKeys {
			if nested, ok := v[key]; ok {
				switch rows := nested.(type) {
				case []interface{}, []map[string]interface{}:
					return Normalize(rows)
				}
			}
		}
		if len(v) == 0 {
			return nil, errors.Extraction(nil, ErrNoData)
		}
		return FromRecords([]map[string]interface{}{v}), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeExtraction, "unsupported extracted payload of type %T", payload)
	}
}

func fromList(list []interface{}) (*Frame, error) {
	if len(list) == 0 {
		return nil, errors.Extraction(nil, ErrNoData)
	}
	records := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeExtraction, "row %d is %T, not an object", i, item)
		}
		records = append(records, rec)
	}
	return FromRecords(records), nil
}
