// Package nocodetest provides a scriptable nocode.Client for service tests.
package nocodetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/guarzo/commentproxy/modules/nocode"
)

// Call records one invocation of the mock.
type Call struct {
	Method   string
	Endpoint string
	Params   map[string]string
	Payload  interface{}
}

// MockClient routes each method to an optional func field and records every call.
// Unset funcs answer with an empty JSON object.
type MockClient struct {
	GetBytesFunc   func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
	PostJSONFunc   func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error)
	PutJSONFunc    func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error)
	DeleteJSONFunc func(ctx context.Context, endpoint string) ([]byte, error)

	mu    sync.Mutex
	calls []Call
}

var _ nocode.Client = (*MockClient)(nil)

func (m *MockClient) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CountCalls counts calls with the given method and endpoint.
func (m *MockClient) CountCalls(method, endpoint string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method && c.Endpoint == endpoint {
			n++
		}
	}
	return n
}

func (m *MockClient) GetJSON(ctx context.Context, endpoint string, entity interface{}, params map[string]string) error {
	data, err := m.GetBytes(ctx, endpoint, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, entity)
}

func (m *MockClient) GetBytes(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	m.record(Call{Method: "GET", Endpoint: endpoint, Params: params})
	if m.GetBytesFunc != nil {
		return m.GetBytesFunc(ctx, endpoint, params)
	}
	return []byte(`{}`), nil
}

func (m *MockClient) PostJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	m.record(Call{Method: "POST", Endpoint: endpoint, Payload: payload})
	if m.PostJSONFunc != nil {
		return m.PostJSONFunc(ctx, endpoint, payload)
	}
	return []byte(`{}`), nil
}

func (m *MockClient) PutJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	m.record(Call{Method: "PUT", Endpoint: endpoint, Payload: payload})
	if m.PutJSONFunc != nil {
		return m.PutJSONFunc(ctx, endpoint, payload)
	}
	return []byte(`{}`), nil
}

func (m *MockClient) DeleteJSON(ctx context.Context, endpoint string) ([]byte, error) {
	m.record(Call{Method: "DELETE", Endpoint: endpoint})
	if m.DeleteJSONFunc != nil {
		return m.DeleteJSONFunc(ctx, endpoint)
	}
	return []byte(`{}`), nil
}

func (m *MockClient) DoRequest(ctx context.Context, method, urlStr string, body io.Reader, expectedStatus ...int) ([]byte, error) {
	return nil, fmt.Errorf("DoRequest not implemented in mock")
}

// JSON marshals v or panics; handy for canned responses.
func JSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
