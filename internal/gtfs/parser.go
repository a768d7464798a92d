package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
)

// ParseZip reads agency.txt, routes.txt and stops.txt from a GTFS zip.
// stops.txt is required; the other files are optional.
func ParseZip(path string, logger *slog.Logger) (*Feed, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	feed := &Feed{}
	sawStops := false

	for _, f := range r.File {
		switch f.Name {
		case "agency.txt":
			feed.Agencies, err = parseCSVFile[Agency](f)
		case "routes.txt":
			feed.Routes, err = parseCSVFile[Route](f)
		case "stops.txt":
			feed.Stops, err = parseCSVFile[Stop](f)
			sawStops = true
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.Name, err)
		}
	}
	if !sawStops {
		return nil, fmt.Errorf("stops.txt not found in zip")
	}

	logger.Info("GTFS feed parsed",
		"agencies", len(feed.Agencies),
		"routes", len(feed.Routes),
		"stops", len(feed.Stops),
	)
	return feed, nil
}

// parseCSVFile reads a single CSV file from the zip and decodes it into a slice of T.
func parseCSVFile[T any](f *zip.File) ([]T, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer rc.Close()

	return decodeCSV[T](rc)
}

// decodeCSV maps columns onto the csv-tagged string fields of T by header name.
// Unknown columns are ignored and missing ones stay empty.
func decodeCSV[T any](r io.Reader) ([]T, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\xef\xbb\xbf")
	}

	fieldMap := buildFieldMap[T](header)

	var results []T
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		results = append(results, decodeRecord[T](record, fieldMap))
	}
	return results, nil
}

type fieldMapping struct {
	csvIndex   int
	fieldIndex int
}

func buildFieldMap[T any](header []string) []fieldMapping {
	var t T
	typ := reflect.TypeOf(t)

	tagToField := make(map[string]int)
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("csv"); tag != "" {
			tagToField[tag] = i
		}
	}

	var mappings []fieldMapping
	for csvIdx, colName := range header {
		if fieldIdx, ok := tagToField[strings.TrimSpace(colName)]; ok {
			mappings = append(mappings, fieldMapping{csvIndex: csvIdx, fieldIndex: fieldIdx})
		}
	}
	return mappings
}

func decodeRecord[T any](record []string, fieldMap []fieldMapping) T {
	var t T
	v := reflect.ValueOf(&t).Elem()
	for _, fm := range fieldMap {
		if fm.csvIndex < len(record) {
			v.Field(fm.fieldIndex).SetString(strings.TrimSpace(record[fm.csvIndex]))
		}
	}
	return t
}
