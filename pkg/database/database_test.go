package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArray_Scan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  StringArray
	}{
		{"null", nil, nil},
		{"json", `["a","b"]`, StringArray{"a", "b"}},
		{"json bytes", []byte(`["x"]`), StringArray{"x"}},
		{"postgres literal", `{a,b,c}`, StringArray{"a", "b", "c"}},
		{"postgres quoted", `{"hello, world","say \"hi\""}`, StringArray{"hello, world", `say "hi"`}},
		{"postgres empty", `{}`, StringArray{}},
		{"bare value", `solo`, StringArray{"solo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringArray
			require.NoError(t, got.Scan(tt.value))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad StringArray
	assert.Error(t, bad.Scan(42))
}

func TestStringArray_Value(t *testing.T) {
	v, err := StringArray{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	v, err = StringArray(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

type payload struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestJSON_RoundTrip(t *testing.T) {
	stored, err := NewJSON(&payload{Name: "p", Items: []string{"1"}}).Value()
	require.NoError(t, err)

	var got JSON[*payload]
	require.NoError(t, got.Scan(stored))
	require.NotNil(t, got.Data)
	assert.Equal(t, "p", got.Data.Name)

	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got.Data)

	require.NoError(t, got.Scan([]byte{}))
	assert.Nil(t, got.Data)
}

func TestNew_SQLite(t *testing.T) {
	db, err := New(&Config{Driver: "sqlite", FilePath: "file::memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)

	require.NoError(t, Ping(context.Background(), db))
	require.NoError(t, Close(db))
	assert.Error(t, Ping(context.Background(), db))

	_, err = New(&Config{Driver: "oracle"})
	assert.Error(t, err)
}
