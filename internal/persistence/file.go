// Package persistence saves test results to disk.
package persistence

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
)

// ResultFile is a file where measurements and summaries are saved as
// newline-delimited JSON, gzip-compressed.
type ResultFile struct {
	writer io.WriteCloser
	fp     *os.File
}

// New creates a ResultFile at the given path. It refuses to overwrite an
// existing file.
func New(filepath string) (*ResultFile, error) {
	fp, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	writer, err := gzip.NewWriterLevel(fp, gzip.BestSpeed)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return &ResultFile{
		writer: writer,
		fp:     fp,
	}, nil
}

// Write appends a JSON representation of result to this file.
func (rf *ResultFile) Write(result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = rf.writer.Write(data)
	return err
}

// Close closes the gzip writer and the file.
func (rf *ResultFile) Close() error {
	err := rf.writer.Close()
	if err != nil {
		rf.fp.Close()
		return err
	}
	return rf.fp.Close()
}
