package resultcache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"checkweaver/internal/fingerprint"
)

// On-disk layout:
//
//	header:  "CCB1" | u32 LE schema version
//	record:  u32 LE length | u8 flags | 20-byte fingerprint | payload
//
// length counts flags, fingerprint and payload but not itself.
const (
	Magic = "CCB1"

	headerSize       = 8
	lengthPrefixSize = 4
	recordFixedSize  = 1 + fingerprint.Size

	flagDeleted byte = 1 << 0

	compactSuffix = ".compact"
)

// recordLoc locates a live record. size includes the length prefix.
type recordLoc struct {
	offset int64
	size   int64
}

// logFile is the append-only record log. It is not safe for concurrent use;
// Cache serializes access under its index lock.
type logFile struct {
	path   string
	schema uint32
	f      *os.File
	size   int64
	logger *slog.Logger

	// beforeRename runs after the compacted file is durable and before it
	// replaces the log. Tests use it to simulate a crash at that point.
	beforeRename func() error
}

type scanResult struct {
	index     map[fingerprint.Digest]recordLoc
	liveBytes int64
}

// openLog opens or creates the log, discarding leftovers of an interrupted
// compaction, and rebuilds the index by scanning every record.
func openLog(path string, schema uint32, logger *slog.Logger) (*logFile, scanResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, scanResult{}, err
	}
	if err := os.Remove(path + compactSuffix); err == nil {
		logger.Info("removed interrupted cache compaction", "path", path+compactSuffix)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, scanResult{}, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, scanResult{}, err
	}
	l := &logFile{path: path, schema: schema, f: f, logger: logger}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, scanResult{}, err
	}
	l.size = info.Size()

	ok, err := l.checkHeader()
	if err != nil {
		_ = f.Close()
		return nil, scanResult{}, err
	}
	if !ok {
		if err := l.reset(); err != nil {
			_ = f.Close()
			return nil, scanResult{}, err
		}
		return l, scanResult{index: map[fingerprint.Digest]recordLoc{}}, nil
	}

	res, err := l.scan()
	if err != nil {
		_ = f.Close()
		return nil, scanResult{}, err
	}
	return l, res, nil
}

// checkHeader reports whether the file carries a header for the current
// schema. A missing or foreign header means every stored entry is a miss.
func (l *logFile) checkHeader() (bool, error) {
	if l.size == 0 {
		return false, nil
	}
	if l.size < headerSize {
		l.logger.Info("cache file header truncated; starting fresh", "path", l.path)
		return false, nil
	}
	var hdr [headerSize]byte
	if _, err := l.f.ReadAt(hdr[:], 0); err != nil {
		return false, err
	}
	if string(hdr[:4]) != Magic {
		l.logger.Info("cache file magic mismatch; starting fresh", "path", l.path)
		return false, nil
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != l.schema {
		l.logger.Info("cache schema version changed; starting fresh", "path", l.path, "found", v, "want", l.schema)
		return false, nil
	}
	return true, nil
}

func encodeHeader(schema uint32) []byte {
	hdr := make([]byte, headerSize)
	copy(hdr, Magic)
	binary.LittleEndian.PutUint32(hdr[4:], schema)
	return hdr
}

// reset truncates the log to an empty file on the current schema.
func (l *logFile) reset() error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.WriteAt(encodeHeader(l.schema), 0); err != nil {
		return err
	}
	l.size = headerSize
	return l.f.Sync()
}

// scan walks every record. A torn record at the tail (from a crash during an
// append) is truncated away.
func (l *logFile) scan() (scanResult, error) {
	res := scanResult{index: make(map[fingerprint.Digest]recordLoc)}
	r := bufio.NewReaderSize(io.NewSectionReader(l.f, headerSize, l.size-headerSize), 64<<10)

	offset := int64(headerSize)
	var prefix [lengthPrefixSize + recordFixedSize]byte
	for offset < l.size {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return res, l.truncateTail(offset, err)
		}
		length := int64(binary.LittleEndian.Uint32(prefix[:lengthPrefixSize]))
		total := lengthPrefixSize + length
		if length < recordFixedSize || offset+total > l.size {
			return res, l.truncateTail(offset, fmt.Errorf("record length %d out of range", length))
		}
		flags := prefix[lengthPrefixSize]
		var fp fingerprint.Digest
		copy(fp[:], prefix[lengthPrefixSize+1:])

		if _, err := r.Discard(int(length - recordFixedSize)); err != nil {
			return res, l.truncateTail(offset, err)
		}

		if old, ok := res.index[fp]; ok {
			res.liveBytes -= old.size
			delete(res.index, fp)
		}
		if flags&flagDeleted == 0 {
			res.index[fp] = recordLoc{offset: offset, size: total}
			res.liveBytes += total
		}
		offset += total
	}
	return res, nil
}

func (l *logFile) truncateTail(offset int64, cause error) error {
	l.logger.Info("truncating torn cache record", "path", l.path, "offset", offset, "error", cause)
	if err := l.f.Truncate(offset); err != nil {
		return err
	}
	l.size = offset
	return nil
}

// append writes one record at the end of the log.
func (l *logFile) append(fp fingerprint.Digest, flags byte, payload []byte) (recordLoc, error) {
	length := recordFixedSize + len(payload)
	buf := make([]byte, lengthPrefixSize+length)
	binary.LittleEndian.PutUint32(buf, uint32(length))
	buf[lengthPrefixSize] = flags
	copy(buf[lengthPrefixSize+1:], fp[:])
	copy(buf[lengthPrefixSize+recordFixedSize:], payload)

	if _, err := l.f.WriteAt(buf, l.size); err != nil {
		return recordLoc{}, err
	}
	loc := recordLoc{offset: l.size, size: int64(len(buf))}
	l.size += int64(len(buf))
	return loc, nil
}

// read returns the payload of the record at loc, verifying its framing.
func (l *logFile) read(fp fingerprint.Digest, loc recordLoc) ([]byte, error) {
	buf := make([]byte, loc.size)
	if _, err := l.f.ReadAt(buf, loc.offset); err != nil {
		return nil, err
	}
	if int64(binary.LittleEndian.Uint32(buf)) != loc.size-lengthPrefixSize {
		return nil, errors.New("record length mismatch")
	}
	if buf[lengthPrefixSize]&flagDeleted != 0 {
		return nil, errors.New("record is deleted")
	}
	if !bytes.Equal(buf[lengthPrefixSize+1:lengthPrefixSize+recordFixedSize], fp[:]) {
		return nil, errors.New("record fingerprint mismatch")
	}
	return buf[lengthPrefixSize+recordFixedSize:], nil
}

// compact rewrites the live records into a fresh file and atomically swaps it
// in. The original log is untouched until the rename; on any error before it,
// the original stays authoritative.
func (l *logFile) compact(index map[fingerprint.Digest]recordLoc) (map[fingerprint.Digest]recordLoc, error) {
	tmpPath := l.path + compactSuffix
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	type entry struct {
		fp  fingerprint.Digest
		loc recordLoc
	}
	live := make([]entry, 0, len(index))
	for fp, loc := range index {
		live = append(live, entry{fp: fp, loc: loc})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].loc.offset < live[j].loc.offset })

	w := bufio.NewWriterSize(tmp, 64<<10)
	if _, err := w.Write(encodeHeader(l.schema)); err != nil {
		return nil, err
	}
	next := make(map[fingerprint.Digest]recordLoc, len(live))
	offset := int64(headerSize)
	for _, e := range live {
		buf := make([]byte, e.loc.size)
		if _, err := l.f.ReadAt(buf, e.loc.offset); err != nil {
			return nil, err
		}
		if _, err := w.Write(buf); err != nil {
			return nil, err
		}
		next[e.fp] = recordLoc{offset: offset, size: e.loc.size}
		offset += e.loc.size
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if l.beforeRename != nil {
		if err := l.beforeRename(); err != nil {
			return nil, err
		}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return nil, err
	}
	committed = true
	_ = fsyncDir(filepath.Dir(l.path))

	_ = l.f.Close()
	l.f = tmp
	l.size = offset
	return next, nil
}

func (l *logFile) close() error {
	syncErr := l.f.Sync()
	closeErr := l.f.Close()
	return errors.Join(syncErr, closeErr)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
