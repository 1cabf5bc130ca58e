package parse

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/tripstats/model"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// A static GTFS feed, only partially relevant here
func fixtureSimple() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"Europe/Budapest,Fake Agency,http://agency/index.html",
		},
		"routes.txt": {
			"route_id,route_short_name,route_long_name,route_type",
			"0050,M5,,1",
			"0070,7,Bus Seven,3",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"s,S,12,34",
		},
	}
}

func TestParseStaticRoutes(t *testing.T) {
	routes, err := ParseStaticRoutes(buildZip(t, fixtureSimple()))
	require.NoError(t, err)

	assert.Equal(t, []model.Route{
		{ID: "0050", ShortName: "M5", Type: 1, Color: "FFFFFF", TextColor: "000000"},
		{ID: "0070", ShortName: "7", LongName: "Bus Seven", Type: 3, Color: "FFFFFF", TextColor: "000000"},
	}, routes)
}

func TestParseStaticRoutesSubdirectory(t *testing.T) {
	files := map[string][]string{}
	for name, content := range fixtureSimple() {
		files["feed/"+name] = content
	}

	routes, err := ParseStaticRoutes(buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, 2, len(routes))
}

func TestParseStaticRoutesBOM(t *testing.T) {
	files := fixtureSimple()
	files["routes.txt"][0] = "\xef\xbb\xbf" + files["routes.txt"][0]

	routes, err := ParseStaticRoutes(buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, "0050", routes[0].ID)
}

func TestParseStaticRoutesInvalid(t *testing.T) {
	// Missing routes.txt
	files := fixtureSimple()
	delete(files, "routes.txt")
	_, err := ParseStaticRoutes(buildZip(t, files))
	assert.Error(t, err)

	// Broken routes.txt
	files = fixtureSimple()
	files["routes.txt"] = []string{"route_id,route_type", "r,3"}
	_, err = ParseStaticRoutes(buildZip(t, files))
	assert.Error(t, err)

	// Not a zip
	_, err = ParseStaticRoutes([]byte("nope"))
	assert.Error(t, err)
}
