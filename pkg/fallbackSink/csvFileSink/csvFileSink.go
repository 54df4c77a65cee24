package csvFileSink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"go.uber.org/zap"
)

var header = []string{
	"id", "documentId", "signerId", "signerName", "contractTitle",
	"fileName", "fileSource", "rubricaSize",
	"hash", "signatureValue", "timestamp", "authoritySignature", "provider",
	"authMethod", "visualRubric", "signedAt", "exportedAt",
}

// CSVFileSink appends evidence records as rows of a spreadsheet-friendly CSV file.
// The file is opened per write and synced before returning, so a crash never
// loses an acknowledged row.
type CSVFileSink struct {
	path   string
	logger *zap.Logger
	clock  func() time.Time
	mu     sync.Mutex
}

var _ fallbackSink.IFallbackSink = (*CSVFileSink)(nil)

// NewCSVFileSink creates the parent directory and the file header if needed
func NewCSVFileSink(path string, logger *zap.Logger) (*CSVFileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("csv fallback path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}

	s := &CSVFileSink{path: path, logger: logger, clock: time.Now}
	if err := s.ensureHeader(); err != nil {
		return nil, err
	}

	logger.Sugar().Infow("CSV fallback sink initialized", "path", path)
	return s, nil
}

func (s *CSVFileSink) ensureHeader() error {
	info, err := os.Stat(s.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat fallback file: %w", err)
	}
	return s.appendRows([][]string{header})
}

// Write appends one row for record
func (s *CSVFileSink) Write(ctx context.Context, record *types.EvidenceRecord) error {
	if record == nil {
		return fmt.Errorf("cannot write nil EvidenceRecord")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRows([][]string{s.toRow(record)}); err != nil {
		return err
	}

	s.logger.Sugar().Infow("Evidence record exported to CSV fallback",
		"signature_id", record.ID,
		"document_id", record.DocumentID,
		"path", s.path,
	)
	return nil
}

func (s *CSVFileSink) appendRows(rows [][]string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open fallback file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write fallback row: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync fallback file: %w", err)
	}
	return f.Close()
}

func (s *CSVFileSink) toRow(r *types.EvidenceRecord) []string {
	rubricaSize := ""
	if r.FileMetadata.RubricaSize != nil {
		rubricaSize = strconv.FormatInt(*r.FileMetadata.RubricaSize, 10)
	}
	sd := r.SignatureData
	return escapeCells([]string{
		r.ID, r.DocumentID, r.SignerID, r.SignerName, r.ContractTitle,
		r.FileMetadata.Name, r.FileMetadata.Source, rubricaSize,
		sd.Hash, sd.SignatureValue, sd.TimestampData.Timestamp, sd.TimestampData.AuthoritySignature, sd.TimestampData.Provider,
		sd.AuthMethod, sd.VisualRubric,
		r.SignedAt.UTC().Format(time.RFC3339Nano),
		s.clock().UTC().Format(time.RFC3339Nano),
	})
}

// formulaPrefixes start a formula in common spreadsheet applications. The
// quote itself is included so that unescapeCell stays the exact inverse.
const formulaPrefixes = "=+-@\t\r'"

func escapeCell(v string) string {
	if v != "" && strings.IndexByte(formulaPrefixes, v[0]) >= 0 {
		return "'" + v
	}
	return v
}

func unescapeCell(v string) string {
	if len(v) > 1 && v[0] == '\'' && strings.IndexByte(formulaPrefixes, v[1]) >= 0 {
		return v[1:]
	}
	return v
}

func escapeCells(row []string) []string {
	for i, v := range row {
		row[i] = escapeCell(v)
	}
	return row
}

func fromRow(row []string) (*types.EvidenceRecord, error) {
	if len(row) != len(header) {
		return nil, fmt.Errorf("unexpected column count %d (expected %d)", len(row), len(header))
	}
	for i, v := range row {
		row[i] = unescapeCell(v)
	}

	signedAt, err := time.Parse(time.RFC3339Nano, row[15])
	if err != nil {
		return nil, fmt.Errorf("invalid signedAt: %w", err)
	}

	var rubricaSize *int64
	if row[7] != "" {
		n, err := strconv.ParseInt(row[7], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rubricaSize: %w", err)
		}
		rubricaSize = &n
	}

	return &types.EvidenceRecord{
		ID:            row[0],
		DocumentID:    row[1],
		SignerID:      row[2],
		SignerName:    row[3],
		ContractTitle: row[4],
		FileMetadata: types.FileMetadata{
			Name:        row[5],
			Source:      row[6],
			RubricaSize: rubricaSize,
		},
		SignatureData: types.SignatureData{
			Hash:           row[8],
			SignatureValue: row[9],
			TimestampData: types.TimestampData{
				Timestamp:          row[10],
				AuthoritySignature: row[11],
				Provider:           row[12],
			},
			AuthMethod:   row[13],
			VisualRubric: row[14],
		},
		SignedAt: signedAt,
	}, nil
}

// ReadAll returns every exported record in file order
func (s *CSVFileSink) ReadAll() ([]*types.EvidenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	records := make([]*types.EvidenceRecord, 0)
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fallback file: %w", err)
		}
		if first {
			first = false
			continue
		}

		record, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

// FindByDocumentID returns exported records for documentID
func (s *CSVFileSink) FindByDocumentID(documentID string) ([]*types.EvidenceRecord, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*types.EvidenceRecord, 0)
	for _, r := range all {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Path returns the export file location
func (s *CSVFileSink) Path() string {
	return s.path
}

// Close is a no-op; the file is not held open between writes
func (s *CSVFileSink) Close() error {
	return nil
}
