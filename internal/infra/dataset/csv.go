// Package dataset parses uploaded question/answer files.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVParser reads two-column question/answer files. A header row naming
// "question" and "answer" columns is honoured in any position; without one
// the first two columns are used. Files ending in .tsv are tab separated.
type CSVParser struct{}

// NewCSVParser constructs the parser.
func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse implements faq.DatasetParser.
func (p *CSVParser) Parse(filename string, data []byte) ([]faq.QAPair, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	if strings.EqualFold(filepath.Ext(filename), ".tsv") {
		reader.Comma = '\t'
	}

	questionCol, answerCol := 0, 1
	var (
		pairs []faq.QAPair
		first = true
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if first {
			first = false
			if q, a, ok := headerColumns(row); ok {
				questionCol, answerCol = q, a
				continue
			}
		}
		pairs = append(pairs, faq.QAPair{
			Question: column(row, questionCol),
			Answer:   column(row, answerCol),
		})
	}
	return pairs, nil
}

func headerColumns(row []string) (int, int, bool) {
	q, a := -1, -1
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "question", "questions", "question_text":
			q = i
		case "answer", "answers", "answer_text":
			a = i
		}
	}
	return q, a, q >= 0 && a >= 0
}

func column(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

var _ faq.DatasetParser = (*CSVParser)(nil)
