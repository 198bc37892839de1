package nocode

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/guarzo/commentproxy/common"
)

// Tables exposed by the backend instance.
const (
	TableComments = "comments"
	TableThreads  = "threads"
)

// Endpoint paths follow "<verb>/<table>[/<id>]".
func CreateEndpoint(table string) string { return "create/" + table }
func ReadEndpoint(table string) string { return "read/" + table }
func ReadOneEndpoint(table string, id int64) string { return fmt.Sprintf("read/%s/%d", table, id) }
func UpdateEndpoint(table string, id int64) string { return fmt.Sprintf("update/%s/%d", table, id) }
func DeleteEndpoint(table string, id int64) string { return fmt.Sprintf("delete/%s/%d", table, id) }

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// DecodeList accepts either a bare JSON array or {"data": [...]}. Anything else
// is reported as common.ErrMalformedResponse.
func DecodeList[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []T{}, nil
	}

	if data[0] != '[' {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: list envelope: %v", common.ErrMalformedResponse, err)
		}
		data = bytes.TrimSpace(env.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return []T{}, nil
		}
	}

	out := []T{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: list: %v", common.ErrMalformedResponse, err)
	}
	return out, nil
}

// DecodeOne accepts a bare object, {"data": {...}} or {"data": [{...}]}.
// An empty list decodes to common.ErrNotFound.
func DecodeOne[T any](data []byte) (*T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, common.NotFoundf("empty response")
	}

	if data[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: record: %v", common.ErrMalformedResponse, err)
		}
		if inner, ok := fields["data"]; ok {
			inner = bytes.TrimSpace(inner)
			if len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') {
				data = inner
			}
		}
	}

	if data[0] == '[' {
		items, err := DecodeList[T](data)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, common.NotFoundf("empty result")
		}
		return &items[0], nil
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: record: %v", common.ErrMalformedResponse, err)
	}
	return &out, nil
}
