package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/APrinceGPT/procbench/internal/model"
)

// FileSession couples a Session with the file backing it, so Close releases
// both.
type FileSession struct {
	*Session
	f *os.File
}

// OpenFile opens a capture container from disk.
func OpenFile(path string) (*FileSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sess, err := Open(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSession{Session: sess, f: f}, nil
}

// Close ends the session and closes the underlying file.
func (s *FileSession) Close() error {
	s.Session.Close()
	return s.f.Close()
}

// ProcessMeta is the static per-process metadata from the container's
// process table, referenced by PID when events stream through.
type ProcessMeta struct {
	PID         uint32
	ParentPID   uint32
	HasParent   bool
	Name        string
	ImagePath   string
	CommandLine string
	User        string
}

// Session decodes one capture container into a lazy, finite, forward-only
// sequence of events. Restartable only by reopening the source. A Session
// must not be used concurrently.
type Session struct {
	r    io.ReaderAt
	size int64

	version    uint32
	is64Bit    bool
	eventCount uint32

	strings *StringTable
	// idmap translates container string-table positions to interned ids;
	// interning collapses duplicate byte sequences to one id.
	idmap []StringID
	procs []ProcessMeta

	cursor   int64
	emitted  uint32
	done     bool
	fatal    bool
	warnings []string
}

// Open validates the container header and loads the process and string
// tables. No event is exposed before validation succeeds.
func Open(r io.ReaderAt, size int64) (*Session, error) {
	if size < headerSize {
		return nil, &DecodeError{Kind: TruncatedHeader, Offset: 0,
			Detail: fmt.Sprintf("file size %d below header size", size)}
	}
	hdr := make([]byte, headerSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, &DecodeError{Kind: TruncatedHeader, Offset: 0, Detail: err.Error()}
	}
	if string(hdr[0:4]) != magic {
		return nil, &DecodeError{Kind: BadMagic, Offset: 0}
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != formatVersion {
		return nil, &DecodeError{Kind: UnsupportedVersion, Offset: 4,
			Detail: fmt.Sprintf("version %d, want %d", version, formatVersion)}
	}
	flags := binary.LittleEndian.Uint32(hdr[8:12])
	eventCount := binary.LittleEndian.Uint32(hdr[12:16])
	procOff := int64(binary.LittleEndian.Uint64(hdr[16:24]))
	strOff := int64(binary.LittleEndian.Uint64(hdr[24:32]))
	evtOff := int64(binary.LittleEndian.Uint64(hdr[32:40]))

	for _, off := range []int64{procOff, strOff, evtOff} {
		if off < headerSize || off > size {
			return nil, &DecodeError{Kind: TruncatedHeader, Offset: off,
				Detail: "table offset outside file"}
		}
	}

	s := &Session{
		r:          r,
		size:       size,
		version:    version,
		is64Bit:    flags&flag64Bit != 0,
		eventCount: eventCount,
		strings:    NewStringTable(),
		cursor:     evtOff,
	}
	if err := s.loadStringTable(strOff); err != nil {
		return nil, err
	}
	if err := s.loadProcessTable(procOff); err != nil {
		return nil, err
	}
	return s, nil
}

// Version reports the container format version.
func (s *Session) Version() uint32 { return s.version }

// Is64Bit reports whether the capture came from a 64-bit system.
func (s *Session) Is64Bit() bool { return s.is64Bit }

// EventCount reports the record count the header declares.
func (s *Session) EventCount() uint32 { return s.eventCount }

// Strings exposes the session's interned string table.
func (s *Session) Strings() *StringTable { return s.strings }

// Processes returns the static process table metadata.
func (s *Session) Processes() []ProcessMeta { return s.procs }

// Warnings returns non-fatal record-level decode warnings accumulated so far.
func (s *Session) Warnings() []string { return s.warnings }

// Close releases the session. The underlying reader is owned by the caller.
func (s *Session) Close() error {
	s.done = true
	return nil
}

// Next produces the next event in capture order. It returns io.EOF at end
// of stream. Corrupt records with a self-consistent length are skipped with
// a warning; any error returned is fatal for the rest of the decode.
func (s *Session) Next() (*model.RawEvent, error) {
	if s.fatal {
		return nil, &DecodeError{Kind: CorruptRecord, Offset: s.cursor,
			Detail: "session aborted by earlier fatal error"}
	}
	for !s.done {
		if s.emitted >= s.eventCount || s.cursor >= s.size {
			s.done = true
			break
		}
		start := s.cursor
		if s.size-start < 4 {
			s.warn(start, "record length field past end of file")
			s.done = true
			break
		}
		var lenBuf [4]byte
		if _, err := s.r.ReadAt(lenBuf[:], start); err != nil {
			s.fatal = true
			return nil, &DecodeError{Kind: CorruptRecord, Offset: start, Detail: err.Error()}
		}
		recLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
		if recLen < eventHeaderSize {
			// The length cannot be trusted, so there is no next record
			// boundary to resume from.
			s.fatal = true
			return nil, &DecodeError{Kind: CorruptRecord, Offset: start,
				Detail: fmt.Sprintf("record length %d below header size", recLen)}
		}
		if start+recLen > s.size {
			s.warn(start, fmt.Sprintf("record length %d runs past end of file", recLen))
			s.done = true
			break
		}

		buf := make([]byte, recLen)
		if _, err := s.r.ReadAt(buf, start); err != nil {
			s.fatal = true
			return nil, &DecodeError{Kind: CorruptRecord, Offset: start, Detail: err.Error()}
		}
		s.cursor = start + recLen
		s.emitted++

		ev, reason := s.decodeRecord(buf)
		if reason != "" {
			s.warn(start, reason)
			continue
		}
		return ev, nil
	}
	return nil, io.EOF
}

// decodeRecord parses one length-delimited record. A non-empty reason means
// the record is dropped and the stream continues at the next boundary.
func (s *Session) decodeRecord(buf []byte) (*model.RawEvent, string) {
	ft := binary.LittleEndian.Uint64(buf[4:12])
	pid := binary.LittleEndian.Uint32(buf[12:16])
	tid := binary.LittleEndian.Uint32(buf[16:20])
	class := binary.LittleEndian.Uint16(buf[20:22])
	opcode := binary.LittleEndian.Uint16(buf[22:24])
	result := binary.LittleEndian.Uint32(buf[24:28])
	duration := binary.LittleEndian.Uint64(buf[28:36])
	pathIdx := StringID(binary.LittleEndian.Uint32(buf[36:40]))
	stackDepth := int(binary.LittleEndian.Uint16(buf[40:42]))
	detailCount := int(binary.LittleEndian.Uint16(buf[42:44]))

	want := eventHeaderSize + stackDepth*8 + detailCount*8
	if want != len(buf) {
		return nil, fmt.Sprintf("payload size mismatch: header implies %d bytes, record is %d", want, len(buf))
	}
	if !validClass(class) {
		return nil, fmt.Sprintf("unknown event class %d", class)
	}

	path, ok := s.containerString(pathIdx)
	if !ok {
		return nil, fmt.Sprintf("path string index %d outside string table", pathIdx)
	}

	var stack []uint64
	off := eventHeaderSize
	if stackDepth > 0 {
		stack = make([]uint64, stackDepth)
		for i := 0; i < stackDepth; i++ {
			stack[i] = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		}
	}

	var details map[string]string
	if detailCount > 0 {
		details = make(map[string]string, detailCount)
		for i := 0; i < detailCount; i++ {
			keyIdx := StringID(binary.LittleEndian.Uint32(buf[off : off+4]))
			valIdx := StringID(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
			off += 8
			key, ok := s.containerString(keyIdx)
			if !ok {
				return nil, fmt.Sprintf("detail key index %d outside string table", keyIdx)
			}
			val, ok := s.containerString(valIdx)
			if !ok {
				return nil, fmt.Sprintf("detail value index %d outside string table", valIdx)
			}
			details[key] = val
		}
	}

	cls := model.EventClass(class)
	return &model.RawEvent{
		Timestamp: filetimeToTime(ft),
		PID:       pid,
		TID:       tid,
		Class:     cls,
		Operation: operationName(cls, opcode),
		Path:      path,
		Result:    ntStatusString(result),
		Duration:  time.Duration(duration) * 100,
		Details:   details,
		Stack:     stack,
	}, ""
}

// containerString resolves a container string-table position, tolerating the
// NoString sentinel. Returns false when the index is out of range.
func (s *Session) containerString(idx StringID) (string, bool) {
	if idx == NoString {
		return "", true
	}
	if int(idx) >= len(s.idmap) {
		return "", false
	}
	v, err := s.strings.Resolve(s.idmap[idx])
	if err != nil {
		// idmap only holds ids this table produced; reaching here is a
		// defect, not input corruption.
		panic(err)
	}
	return v, true
}

func (s *Session) loadStringTable(off int64) error {
	count, cursor, err := s.readTableCount(off, "string table")
	if err != nil {
		return err
	}
	s.idmap = make([]StringID, 0, count)
	for i := uint32(0); i < count; i++ {
		if s.size-cursor < 4 {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
				Detail: fmt.Sprintf("string table truncated at entry %d", i)}
		}
		var lenBuf [4]byte
		if _, err := s.r.ReadAt(lenBuf[:], cursor); err != nil {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor, Detail: err.Error()}
		}
		n := int64(binary.LittleEndian.Uint32(lenBuf[:]))
		cursor += 4
		if n > s.size-cursor {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
				Detail: fmt.Sprintf("string entry %d length %d runs past end of file", i, n)}
		}
		raw := make([]byte, n)
		if n > 0 {
			if _, err := s.r.ReadAt(raw, cursor); err != nil {
				return &DecodeError{Kind: TruncatedHeader, Offset: cursor, Detail: err.Error()}
			}
		}
		cursor += n
		s.idmap = append(s.idmap, s.strings.Intern(raw))
	}
	return nil
}

func (s *Session) loadProcessTable(off int64) error {
	count, cursor, err := s.readTableCount(off, "process table")
	if err != nil {
		return err
	}
	need := int64(count) * procEntrySize
	if need > s.size-cursor {
		return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
			Detail: fmt.Sprintf("process table needs %d bytes, %d remain", need, s.size-cursor)}
	}
	buf := make([]byte, need)
	if need > 0 {
		if _, err := s.r.ReadAt(buf, cursor); err != nil {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor, Detail: err.Error()}
		}
	}
	s.procs = make([]ProcessMeta, 0, count)
	for i := uint32(0); i < count; i++ {
		e := buf[int64(i)*procEntrySize:]
		pid := binary.LittleEndian.Uint32(e[0:4])
		parent := binary.LittleEndian.Uint32(e[4:8])
		image, ok := s.containerString(StringID(binary.LittleEndian.Uint32(e[8:12])))
		if !ok {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
				Detail: fmt.Sprintf("process entry %d references string outside table", i)}
		}
		cmdline, ok := s.containerString(StringID(binary.LittleEndian.Uint32(e[12:16])))
		if !ok {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
				Detail: fmt.Sprintf("process entry %d references string outside table", i)}
		}
		user, ok := s.containerString(StringID(binary.LittleEndian.Uint32(e[16:20])))
		if !ok {
			return &DecodeError{Kind: TruncatedHeader, Offset: cursor,
				Detail: fmt.Sprintf("process entry %d references string outside table", i)}
		}
		s.procs = append(s.procs, ProcessMeta{
			PID:         pid,
			ParentPID:   parent,
			HasParent:   parent != 0 && parent != pid,
			Name:        BaseName(image),
			ImagePath:   image,
			CommandLine: cmdline,
			User:        user,
		})
	}
	return nil
}

func (s *Session) readTableCount(off int64, what string) (uint32, int64, error) {
	if s.size-off < 4 {
		return 0, 0, &DecodeError{Kind: TruncatedHeader, Offset: off,
			Detail: what + " offset past end of file"}
	}
	var buf [4]byte
	if _, err := s.r.ReadAt(buf[:], off); err != nil {
		return 0, 0, &DecodeError{Kind: TruncatedHeader, Offset: off, Detail: err.Error()}
	}
	count := binary.LittleEndian.Uint32(buf[:])
	if count > maxTableCount {
		return 0, 0, &DecodeError{Kind: TruncatedHeader, Offset: off,
			Detail: fmt.Sprintf("%s declares %d entries", what, count)}
	}
	return count, off + 4, nil
}

func (s *Session) warn(off int64, msg string) {
	s.warnings = append(s.warnings, fmt.Sprintf("record at offset %d skipped: %s", off, msg))
}

// BaseName extracts the final component from a Windows path.
func BaseName(path string) string {
	if path == "" {
		return ""
	}
	norm := strings.ReplaceAll(path, "/", "\\")
	if i := strings.LastIndexByte(norm, '\\'); i >= 0 {
		return norm[i+1:]
	}
	return norm
}
