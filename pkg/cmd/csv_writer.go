package cmd

import (
	"encoding/csv"
	"fmt"
	"os"

	"safelink/pkg/config"
)

// CSVWriter appends training rows to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSVWriter opens filePath for appending, creating it when missing. The
// bool reports whether the file is new and still needs a header.
func NewCSVWriter(filePath string) (*CSVWriter, bool, error) {
	info, err := os.Stat(filePath)
	isNewFile := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open or create CSV file: %w", err)
	}

	return &CSVWriter{
		file:   file,
		writer: csv.NewWriter(file),
	}, isNewFile, nil
}

// WriteHeader writes the training header for the given feature names.
func (cw *CSVWriter) WriteHeader(names []string) error {
	return cw.writer.Write(config.DatasetHeader(names))
}

// WriteReport writes one labelled vector and flushes it so an interrupted
// run keeps every completed row.
func (cw *CSVWriter) WriteReport(index int, r *config.Report, class int) error {
	if err := cw.writer.Write(r.Vector.ToCSVRow(index, class)); err != nil {
		return err
	}
	cw.rows++
	cw.writer.Flush()
	return cw.writer.Error()
}

// Rows returns the number of rows written by this writer.
func (cw *CSVWriter) Rows() int {
	return cw.rows
}

func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	flushErr := cw.writer.Error()
	closeErr := cw.file.Close()

	if flushErr != nil {
		return fmt.Errorf("error flushing CSV writer: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("error closing CSV file: %w", closeErr)
	}
	return nil
}
