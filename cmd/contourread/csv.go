package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/drougas/contourpp-go/contour"
)

var csvHeader = []string{
	"datetime", "value", "tag1", "dont_feel_right", "sick", "stress", "activity", "hours_after_meal",
}

// appendCSV appends one CSV row per record to fileName, writing the header line only when the
// file does not already exist.
func appendCSV(fileName string, records []contour.Record) error {
	fileExists := false
	if fi, err := os.Stat(fileName); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("csv-out: %v is a directory", fileName)
		}
		fileExists = true
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("csv-out: stat failed, err: %w", err)
	}

	var f *os.File
	var err error
	if fileExists {
		f, err = os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	} else {
		f, err = os.Create(fileName)
	}
	if err != nil {
		return fmt.Errorf("csv-out: open failed, err: %w", err)
	}
	defer f.Close()

	csvwriter := csv.NewWriter(f)

	if !fileExists {
		if err := csvwriter.Write(csvHeader); err != nil {
			return fmt.Errorf("csv-out: header write failed, err: %w", err)
		}
	}
	for _, r := range records {
		if err := csvwriter.Write(strings.Split(r.PrintCSV(), ",")); err != nil {
			return fmt.Errorf("csv-out: row write failed, err: %w", err)
		}
	}
	csvwriter.Flush()
	return csvwriter.Error()
}
