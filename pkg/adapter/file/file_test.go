package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/table"
)

func sampleFrame() *table.Frame {
	return table.FromRecords([]map[string]interface{}{
		{"id": int64(1), "name": "alice", "score": 9.5, "active": true},
		{"id": int64(2), "name": "bob", "score": 7.25, "active": false},
	})
}

func TestWriteThenReadEachFormat(t *testing.T) {
	cases := []struct {
		file string
	}{
		{"out.csv"},
		{"out.json"},
		{"out.jsonl"},
		{"out.avro"},
		{"out.csv.gz"},
		{"out.jsonl.zst"},
		{"out.avro.lz4"},
	}

	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			dir := t.TempDir()
			w, err := New(config.FileSettings{BaseDir: dir}, nil)
			require.NoError(t, err)

			written, err := w.WriteTable(context.Background(), sampleFrame(), tc.file)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tc.file), written)

			r, err := New(config.FileSettings{BaseDir: dir}, map[string]interface{}{"path": tc.file})
			require.NoError(t, err)
			frame, err := r.ReadTable(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 2, frame.Rows())
			assert.ElementsMatch(t, []string{"active", "id", "name", "score"}, frame.Columns())
			names, _ := frame.Column("name")
			assert.Equal(t, []interface{}{"alice", "bob"}, names)
		})
	}
}

func TestAvroKeepsTypes(t *testing.T) {
	dir := t.TempDir()
	a, err := New(config.FileSettings{BaseDir: dir}, nil)
	require.NoError(t, err)
	_, err = a.WriteTable(context.Background(), sampleFrame(), "typed.avro")
	require.NoError(t, err)

	r, err := New(config.FileSettings{BaseDir: dir}, map[string]interface{}{"path": "typed.avro"})
	require.NoError(t, err)
	frame, err := r.ReadTable(context.Background())
	require.NoError(t, err)

	ids, _ := frame.Column("id")
	assert.Equal(t, []interface{}{int64(1), int64(2)}, ids)
	scores, _ := frame.Column("score")
	assert.Equal(t, []interface{}{9.5, 7.25}, scores)
	active, _ := frame.Column("active")
	assert.Equal(t, []interface{}{true, false}, active)
}

func TestGeneratedExtension(t *testing.T) {
	dir := t.TempDir()
	a, err := New(config.FileSettings{BaseDir: dir, Format: "jsonl", Compression: "gzip"}, nil)
	require.NoError(t, err)

	written, err := a.WriteTable(context.Background(), sampleFrame(), "integration_7_run")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "integration_7_run.jsonl.gz"), written)

	_, err = os.Stat(written)
	require.NoError(t, err)
}

func TestConfiguredPathWins(t *testing.T) {
	dir := t.TempDir()
	a, err := New(config.FileSettings{BaseDir: dir}, map[string]interface{}{"file_path": "fixed.csv"})
	require.NoError(t, err)

	written, err := a.WriteTable(context.Background(), sampleFrame(), "generated")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fixed.csv"), written)
}

func TestReadErrors(t *testing.T) {
	a, err := New(config.FileSettings{}, nil)
	require.NoError(t, err)
	_, err = a.ReadTable(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	a, err = New(config.FileSettings{BaseDir: t.TempDir()}, map[string]interface{}{"path": "missing.csv"})
	require.NoError(t, err)
	_, err = a.ReadTable(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestInvalidSettings(t *testing.T) {
	_, err := New(config.FileSettings{Format: "xlsx"}, nil)
	assert.Error(t, err)
	_, err = New(config.FileSettings{}, map[string]interface{}{"compression": "rar"})
	assert.Error(t, err)
}

func TestFactoryThroughRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte("id,email\n1,a@example.com\n"), 0o600))

	reg := adapter.NewRegistry(nil)
	require.NoError(t, reg.Register(Kind, Factory))
	require.NoError(t, reg.Define("uploads", config.AdapterConfig{
		Kind:     Kind,
		Settings: map[string]interface{}{"base_dir": dir},
	}))

	a, err := reg.Resolve(context.Background(), "file", "uploads", map[string]interface{}{"path": "users.csv"})
	require.NoError(t, err)
	require.NoError(t, adapter.CheckDestination(a))

	payload, err := adapter.Extract(context.Background(), a)
	require.NoError(t, err)
	frame, ok := payload.(*table.Frame)
	require.True(t, ok)
	email, _ := frame.Column("email")
	assert.Equal(t, []interface{}{"a@example.com"}, email)
}
