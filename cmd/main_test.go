package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/tripstats/config"
	"tidbyt.dev/tripstats/storage"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization: Bearer x:y", " X-Foo :bar "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer x:y",
		"X-Foo":         "bar",
	}, headers)

	_, err = parseHeaders([]string{"nocolon"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "tripstats", entry["service"])
	assert.Equal(t, Version, entry["version"])

	// Unknown and empty levels fall back to info
	buf.Reset()
	log = newLogger(config.LogConfig{}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestOpenStorage(t *testing.T) {
	cfg = config.Default()

	cfg.Storage.Backend = "memory"
	s, err := openStorage(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, s)
	s.Close()

	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLiteDir = t.TempDir()
	s, err = openStorage(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteStorage{}, s)
	s.Close()

	cfg.Storage.Backend = "nope"
	_, err = openStorage(context.Background())
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	cfg = config.Default()
	cfg.Location = time.UTC

	d, err := parseDate("start", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDate("start", "04/03/2024")
	assert.Error(t, err)
}

func buildRoutesZip(t *testing.T) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	f, err := w.Create("routes.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("route_id,route_short_name,route_long_name,route_type\n0050,M5,,1\n0070,,Bus Seven,3\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRouteNames(t *testing.T) {
	body := buildRoutesZip(t)
	expected := map[string]string{"0050": "M5", "0070": "Bus Seven"}

	path := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(path, body, 0644))
	names, err := routeNames(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, expected, names)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()
	names, err = routeNames(context.Background(), server.URL+"/gtfs.zip")
	require.NoError(t, err)
	assert.Equal(t, expected, names)

	_, err = routeNames(context.Background(), filepath.Join(t.TempDir(), "missing.zip"))
	assert.Error(t, err)
}
