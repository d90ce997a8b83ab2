// Package capture appends the packet stream to a size-rotated file so a run
// can be replayed or inspected offline.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/sink"
)

// Config selects the capture file and its rotation.
type Config struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MaxPacketSize bounds the length prefix accepted by Reader.
const MaxPacketSize = 64 << 10

// ErrCorrupt is returned by Reader for a truncated or oversized frame.
var ErrCorrupt = errors.New("capture: corrupt frame")

// Sink buffers packets in memory and writes them to a rotating file. Each
// packet is preceded by its length as a protobuf varint.
type Sink struct {
	file  *lumberjack.Logger
	w     *bufio.Writer
	path  string
	log   logger.Logger
	frame []byte
}

// New creates the capture directory and returns the sink. The file itself
// is opened on first write.
func New(cfg Config, log logger.Logger) (*Sink, error) {
	if cfg.Path == "" {
		return nil, model.NewConfigurationError("capture path", "no file given")
	}
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return nil, model.NewConfigurationError("capture rotation", "settings must not be negative")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &model.SinkWriteError{Op: "open", Err: fmt.Errorf("capture directory: %w", err)}
		}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	log = logger.OrNop(log)
	log.Infof("capturing packets to %s", cfg.Path)
	return &Sink{file: lj, w: bufio.NewWriterSize(lj, 64<<10), path: cfg.Path, log: log}, nil
}

// Write appends one framed packet. The returned count excludes the prefix.
// A frame never straddles two buffer flushes, so rotation keeps frames whole.
func (s *Sink) Write(p []byte) (int, error) {
	s.frame = protowire.AppendVarint(s.frame[:0], uint64(len(p)))
	s.frame = append(s.frame, p...)
	if s.w.Buffered() > 0 && s.w.Available() < len(s.frame) {
		if err := s.w.Flush(); err != nil {
			return 0, err
		}
	}
	if _, err := s.w.Write(s.frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush pushes buffered packets to the file.
func (s *Sink) Flush() error { return s.w.Flush() }

// Close flushes and closes the file.
func (s *Sink) Close() error {
	ferr := s.w.Flush()
	cerr := s.file.Close()
	s.log.Debugf("capture %s closed", s.path)
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Reader reads packets back from a capture file.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next packet. The slice is reused by the following call.
// It returns io.EOF at a clean end of stream.
func (r *Reader) Next() ([]byte, error) {
	var hdr []byte
	for {
		b, err := r.r.ReadByte()
		if err == io.EOF && len(hdr) == 0 {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		hdr = append(hdr, b)
		if b < 0x80 {
			break
		}
		if len(hdr) == protowire.SizeVarint(MaxPacketSize) {
			return nil, fmt.Errorf("%w: length prefix too long", ErrCorrupt)
		}
	}
	n, m := protowire.ConsumeVarint(hdr)
	if m < 0 || n > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet length %d", ErrCorrupt, n)
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r.buf, nil
}

func init() {
	_ = sink.Register("capture", func(conf map[string]any, env sink.Env) (sink.Sink, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, model.NewConfigurationError("capture output", "%v", err)
		}
		return New(c, env.Logger)
	})
}
