package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nestroute/mrtd/core"
	uio "github.com/nestroute/mrtd/std/utils/io"
)

// FileSink appends records to MRT files named after a time template.
// The file is rotated whenever a record's timestamp expands the template
// to a different name.
type FileSink struct {
	template string
	baseDir  string

	name   string
	file   *os.File
	writer *uio.TimedWriter
}

// NewFileSink creates a sink for the template, relative to baseDir.
// Supported verbs: %Y %m %d %H %M %S %%.
func NewFileSink(template string, baseDir string) *FileSink {
	return &FileSink{
		template: template,
		baseDir:  baseDir,
	}
}

func (s *FileSink) String() string {
	return fmt.Sprintf("file-sink (%s)", s.template)
}

// ExpandTemplate formats t with the strftime-like template.
func ExpandTemplate(template string, t time.Time) string {
	t = t.UTC()
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i+1 == len(template) {
			b.WriteByte(c)
			continue
		}
		i++
		switch template[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(template[i])
		}
	}
	return b.String()
}

func (s *FileSink) WriteRecord(rec *Record) error {
	name := ExpandTemplate(s.template, time.Unix(int64(rec.Timestamp), 0))
	if s.baseDir != "" && !filepath.IsAbs(name) {
		name = filepath.Join(s.baseDir, name)
	}

	if name != s.name {
		if err := s.Close(); err != nil {
			return err
		}
		if err := s.open(name); err != nil {
			return err
		}
	}

	_, err := s.writer.Write(rec.Data)
	return err
}

func (s *FileSink) open(name string) error {
	if dir := filepath.Dir(name); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	s.name = name
	s.file = file
	s.writer = uio.NewTimedWriter(file, 64*1024)
	core.Log.Info(s, "Opened MRT file", "path", name)
	return nil
}

// Flush writes buffered records to the current file.
func (s *FileSink) Flush() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}

// Close flushes and closes the current file, if any.
func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}

	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.name, s.file, s.writer = "", nil, nil

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
