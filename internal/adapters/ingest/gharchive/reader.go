package gharchive

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	perr "ghafacts/internal/platform/errors"
	"ghafacts/internal/platform/logger"
)

const (
	initialReadBuf = 512 * 1024
	sampleRawMax   = 2048 // max bytes of a malformed line to log
)

// maxLineBytes caps one line; longer lines are skipped as malformed
var maxLineBytes = 32 * 1024 * 1024

// Decode parses one archive line under the era's schema
func Decode(era Era, line []byte) (Event, error) {
	var ev Event
	var err error
	if era == EraLegacy {
		var le LegacyEvent
		err = json.Unmarshal(line, &le)
		ev = &le
	} else {
		var ce CurrentEvent
		err = json.Unmarshal(line, &ce)
		ev = &ce
	}
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "decode %s event", era)
	}
	return ev, nil
}

// Reader streams events from one gzip NDJSON file
type Reader struct {
	r         io.ReadCloser
	gz        *gzip.Reader
	br        *bufio.Reader
	buf       []byte
	log       *logger.Logger
	era       Era
	name      string
	err       error
	events    int
	malformed int
	bytes     int64
	sampled   bool // logs exactly one malformed sample per file
}

// NewReader wraps r; name is only used in log lines.
// log carries the caller's run fields; nil falls back to the package logger
func NewReader(r io.ReadCloser, era Era, name string, log *logger.Logger) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		if cerr := r.Close(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	if log == nil {
		log = logger.Named("gharchive")
	}
	return &Reader{
		r:    r,
		gz:   gz,
		br:   bufio.NewReaderSize(gz, initialReadBuf),
		log:  log,
		era:  era,
		name: name,
	}, nil
}

// Next returns the next well-formed event; io.EOF when done.
// Malformed lines are counted and skipped.
func (rd *Reader) Next() (Event, error) {
	if rd.err != nil {
		return nil, rd.err
	}
	for {
		line, tooLong, err := rd.readLine()
		if err != nil {
			rd.err = err
			return nil, err
		}
		if tooLong {
			rd.malformed++
			rd.logMalformed(line, perr.Newf(perr.ErrorCodeJSON, "line exceeds %d bytes", maxLineBytes))
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		ev, err := Decode(rd.era, line)
		if err != nil {
			rd.malformed++
			rd.logMalformed(line, err)
			continue
		}
		rd.events++
		return ev, nil
	}
}

// readLine returns the next line without its terminator. A line over
// maxLineBytes is consumed to its newline and reported with tooLong set
func (rd *Reader) readLine() (line []byte, tooLong bool, err error) {
	rd.buf = rd.buf[:0]
	for {
		frag, err := rd.br.ReadSlice('\n')
		rd.bytes += int64(len(frag))
		if !tooLong {
			if len(rd.buf)+len(frag) > maxLineBytes+1 {
				tooLong = true
				rd.buf = append(rd.buf, frag...)
				rd.buf = rd.buf[:min(len(rd.buf), sampleRawMax)]
			} else {
				rd.buf = append(rd.buf, frag...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimRight(rd.buf, "\r\n"), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(rd.buf) == 0 && !tooLong {
				return nil, false, io.EOF
			}
			// unterminated last line; the next call sees EOF
			return bytes.TrimRight(rd.buf, "\r\n"), tooLong, nil
		default:
			return nil, false, err
		}
	}
}

func (rd *Reader) logMalformed(line []byte, err error) {
	l := rd.log
	if rd.sampled {
		l.Debug().Err(err).Str("file", rd.name).Msg("gharchive: skipped malformed line")
		return
	}
	rd.sampled = true
	l.Warn().
		Err(err).
		Str("file", rd.name).
		Str("era", rd.era.String()).
		Int("line_bytes", len(line)).
		Str("sample_raw", truncateUTF8(line, sampleRawMax)).
		Msg("gharchive: malformed line")
}

// Close closes the gzip stream and the underlying reader
func (rd *Reader) Close() error {
	var first error
	if rd.gz != nil {
		if err := rd.gz.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			first = err
		}
	}
	if rd.r != nil {
		if err := rd.r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns events decoded, lines skipped as malformed and uncompressed bytes read so far
func (rd *Reader) Stats() (events, malformed int, bytes int64) {
	return rd.events, rd.malformed, rd.bytes
}

// truncateUTF8 returns a string made from b, truncated to at most max bytes,
// backing up to a UTF-8 boundary if needed, and appending an ellipsis if truncated
func truncateUTF8(b []byte, max int) string {
	if max <= 0 || len(b) <= max {
		return string(b)
	}
	i := max
	for i > 0 && (b[i]&0xC0) == 0x80 {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(b[:i]) + "..."
}
