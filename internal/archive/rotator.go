// Package archive keeps a raw copy of every fetched payload in rotating JSONL
// files. Files move from hot (open for writes) to warm (closed) and are gzipped
// into cold storage.
package archive

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// Rotation triggers
	DefaultMaxRecordsPerFile = 1000
	DefaultMaxFileAge        = time.Hour

	writeBufferSize = 64 * 1024
)

// Record is one archived match.
type Record struct {
	MatchID   string          `json:"matchId"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Detail    json.RawMessage `json:"detail"`
	Timeline  json.RawMessage `json:"timeline,omitempty"`
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithMaxRecords sets how many records a file holds before rotating.
func WithMaxRecords(n int) Option {
	return func(r *Rotator) {
		if n > 0 {
			r.maxRecords = n
		}
	}
}

// WithMaxAge sets how long a file stays open before rotating.
func WithMaxAge(d time.Duration) Option {
	return func(r *Rotator) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rotator) {
		r.logger = l.Named("archive")
	}
}

// Rotator writes records to rotating JSONL files.
type Rotator struct {
	mu sync.Mutex

	hotDir  string
	warmDir string
	coldDir string

	maxRecords int
	maxAge     time.Duration
	logger     *zap.Logger

	currentFile   *os.File
	currentWriter *bufio.Writer
	currentPath   string
	recordCount   int
	fileOpenedAt  time.Time
	seq           int
}

// NewRotator creates the hot, warm and cold directories under baseDir and
// opens the first file.
func NewRotator(baseDir string, opts ...Option) (*Rotator, error) {
	r := &Rotator{
		hotDir:     filepath.Join(baseDir, "hot"),
		warmDir:    filepath.Join(baseDir, "warm"),
		coldDir:    filepath.Join(baseDir, "cold"),
		maxRecords: DefaultMaxRecordsPerFile,
		maxAge:     DefaultMaxFileAge,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, dir := range []string{r.hotDir, r.warmDir, r.coldDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}

	if err := r.rotate(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetColdDir moves cold storage elsewhere (e.g. a bigger disk).
func (r *Rotator) SetColdDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrap(err, "create cold directory")
	}
	r.mu.Lock()
	r.coldDir = path
	r.mu.Unlock()
	return nil
}

// Append writes one match and rotates the file when it is full or old.
func (r *Rotator) Append(matchID string, detail, timeline []byte) error {
	line, err := json.Marshal(Record{
		MatchID:   matchID,
		FetchedAt: time.Now().UTC(),
		Detail:    detail,
		Timeline:  timeline,
	})
	if err != nil {
		return errors.Wrapf(err, "encode archive record %s", matchID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFile == nil {
		return errors.New("archive is closed")
	}
	if _, err := r.currentWriter.Write(line); err != nil {
		return errors.Wrap(err, "write record")
	}
	if err := r.currentWriter.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "write newline")
	}
	r.recordCount++

	if err := r.currentWriter.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}

	if r.shouldRotate() {
		return r.rotate()
	}
	return nil
}

func (r *Rotator) shouldRotate() bool {
	return r.currentFile == nil ||
		r.recordCount >= r.maxRecords ||
		time.Since(r.fileOpenedAt) >= r.maxAge
}

// rotate closes the current file into warm storage and opens a new one.
func (r *Rotator) rotate() error {
	if r.currentFile != nil {
		if err := r.closeCurrent(); err != nil {
			return err
		}
	}

	r.seq++
	name := fmt.Sprintf("raw_matches_%s_%04d.jsonl", time.Now().Format("2006-01-02_15-04-05"), r.seq)
	r.currentPath = filepath.Join(r.hotDir, name)

	file, err := os.Create(r.currentPath)
	if err != nil {
		return errors.Wrap(err, "create archive file")
	}

	r.currentFile = file
	r.currentWriter = bufio.NewWriterSize(file, writeBufferSize)
	r.recordCount = 0
	r.fileOpenedAt = time.Now()

	r.logger.Debug("opened archive file", zap.String("file", name))
	return nil
}

// closeCurrent flushes and closes the open file, moving it to warm storage
// when it holds records and removing it otherwise.
func (r *Rotator) closeCurrent() error {
	if err := r.currentWriter.Flush(); err != nil {
		return errors.Wrap(err, "flush before rotation")
	}
	if err := r.currentFile.Close(); err != nil {
		return errors.Wrap(err, "close archive file")
	}
	r.currentFile = nil

	name := filepath.Base(r.currentPath)
	if r.recordCount == 0 {
		return os.Remove(r.currentPath)
	}

	if err := os.Rename(r.currentPath, filepath.Join(r.warmDir, name)); err != nil {
		return errors.Wrap(err, "move to warm storage")
	}
	r.logger.Info("archive file moved to warm storage", zap.String("file", name), zap.Int("records", r.recordCount))
	return nil
}

// Close flushes and closes the current file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFile == nil {
		return nil
	}
	return r.closeCurrent()
}

// Stats returns the record count and name of the open file.
func (r *Rotator) Stats() (recordsInCurrentFile int, currentFileName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordCount, filepath.Base(r.currentPath)
}

// CompressWarm gzips every warm file into cold storage and returns how many
// were moved.
func (r *Rotator) CompressWarm() (int, error) {
	r.mu.Lock()
	coldDir := r.coldDir
	r.mu.Unlock()

	entries, err := os.ReadDir(r.warmDir)
	if err != nil {
		return 0, errors.Wrap(err, "list warm storage")
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if err := CompressToCold(filepath.Join(r.warmDir, e.Name()), coldDir); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		r.logger.Info("compressed warm archive files", zap.Int("files", n), zap.String("cold_dir", coldDir))
	}
	return n, nil
}

// CompressToCold compresses a warm file into coldDir and removes the original.
func CompressToCold(warmPath, coldDir string) error {
	src, err := os.Open(warmPath)
	if err != nil {
		return errors.Wrap(err, "open warm file")
	}
	defer src.Close()

	coldPath := filepath.Join(coldDir, filepath.Base(warmPath)+".gz")
	dst, err := os.Create(coldPath)
	if err != nil {
		return errors.Wrap(err, "create cold file")
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return errors.Wrap(err, "compress")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "finish gzip stream")
	}

	return errors.Wrap(os.Remove(warmPath), "remove warm file")
}

// ReadFile decodes every record of a warm or cold archive file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open archive file")
	}
	defer f.Close()

	var rd io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		rd = gz
	}

	var out []Record
	dec := json.NewDecoder(rd)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return out, errors.Wrapf(err, "decode record %d", len(out)+1)
		}
		out = append(out, rec)
	}
	return out, nil
}
