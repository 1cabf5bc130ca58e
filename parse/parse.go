package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/spkg/bom"

	"tidbyt.dev/tripstats/model"
)

// Reads the routes of a zipped static GTFS feed. Other files in the
// archive are ignored.
func ParseStaticRoutes(buf []byte) ([]model.Route, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		if path[len(path)-1] != "routes.txt" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		defer rc.Close()

		// The BOM reader strips unicode BOMs if present.
		routes, err := ParseRoutes(bom.NewReader(rc))
		if err != nil {
			return nil, fmt.Errorf("parsing routes.txt: %w", err)
		}
		return routes, nil
	}

	return nil, fmt.Errorf("missing routes.txt")
}
