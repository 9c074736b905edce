package capture

import (
	"strings"
	"time"

	"github.com/APrinceGPT/procbench/internal/model"
)

// Binary container layout. The container is little-endian throughout:
//
//	header (64 bytes)
//	  0  magic "PML_"
//	  4  u32 format version
//	  8  u32 flags (bit 0: events captured on a 64-bit system)
//	  12 u32 event record count
//	  16 u64 process table offset
//	  24 u64 string table offset
//	  32 u64 event table offset
//	  40 reserved to 64
//	string table: u32 count, then count entries of u32 length + UTF-8 bytes
//	process table: u32 count, then count fixed 24-byte records
//	event table: length-prefixed records, see eventHeaderSize
//
// Every offset and length is untrusted and checked against the buffer
// before use.
const (
	headerSize      = 64
	magic           = "PML_"
	formatVersion   = 9
	flag64Bit       = 1 << 0
	procEntrySize   = 24 // u32 pid, parent pid, image idx, cmdline idx, user idx, session
	eventHeaderSize = 44
	// event record header:
	//  0  u32 record length (total, including this field)
	//  4  u64 timestamp (FILETIME, 100ns since 1601-01-01 UTC)
	//  12 u32 pid
	//  16 u32 tid
	//  20 u16 class
	//  22 u16 opcode
	//  24 u32 result (NTSTATUS)
	//  28 u64 duration (100ns units)
	//  36 u32 path string index (NoString when absent)
	//  40 u16 stack depth
	//  42 u16 detail pair count
	// payload: depth u64 frames, then pair count of (u32 key idx, u32 val idx)

	// Sanity bound on table entry counts so a hostile header cannot force a
	// huge allocation before per-entry bounds checks run.
	maxTableCount = 1 << 24
)

// filetimeEpoch is 1601-01-01 UTC, the FILETIME origin.
var filetimeEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

func filetimeToTime(ft uint64) time.Time {
	return filetimeEpoch.Add(time.Duration(ft) * 100)
}

// Operation name tables per event class. Opcodes index into these; unknown
// opcodes decode as "Unknown" rather than failing the record.
var opNames = map[model.EventClass][]string{
	model.ClassProcess: {
		"Process Create", "Process Start", "Process Exit",
		"Thread Create", "Thread Exit", "Load Image",
	},
	model.ClassRegistry: {
		"RegOpenKey", "RegQueryValue", "RegSetValue", "RegCreateKey",
		"RegDeleteKey", "RegDeleteValue", "RegCloseKey", "RegEnumKey",
	},
	model.ClassFile: {
		"CreateFile", "CloseFile", "ReadFile", "WriteFile",
		"QueryDirectory", "SetDispositionInformationFile", "DeleteFile",
	},
	model.ClassNetwork: {
		"TCP Connect", "TCP Send", "TCP Receive", "TCP Disconnect",
		"UDP Send", "UDP Receive",
	},
	model.ClassProfiling: {
		"Thread Profiling", "Process Profiling",
	},
}

func operationName(class model.EventClass, op uint16) string {
	names, ok := opNames[class]
	if !ok || int(op) >= len(names) {
		return "Unknown"
	}
	return names[op]
}

func validClass(class uint16) bool {
	return model.EventClass(class) >= model.ClassProcess &&
		model.EventClass(class) <= model.ClassProfiling
}

// ClassifyOperation maps an operation name to its event class. The CSV and
// XML adapters use it because those formats carry only the operation string.
func ClassifyOperation(op string) model.EventClass {
	lower := strings.ToLower(op)
	switch {
	case strings.HasPrefix(lower, "reg"):
		return model.ClassRegistry
	case strings.Contains(lower, "tcp"), strings.Contains(lower, "udp"),
		strings.Contains(lower, "network"):
		return model.ClassNetwork
	case strings.Contains(lower, "process"), strings.Contains(lower, "thread"),
		strings.Contains(lower, "load image"):
		return model.ClassProcess
	case strings.Contains(lower, "profiling"):
		return model.ClassProfiling
	case lower == "" || lower == "unknown":
		return model.ClassUnknown
	default:
		return model.ClassFile
	}
}

// ntStatusString renders a result code the way exports show it.
func ntStatusString(code uint32) string {
	switch code {
	case 0x00000000:
		return "SUCCESS"
	case 0xC0000034:
		return "NAME NOT FOUND"
	case 0xC0000022:
		return "ACCESS DENIED"
	case 0xC0000035:
		return "NAME COLLISION"
	case 0x00000103:
		return "REPARSE"
	case 0xC0000023:
		return "BUFFER TOO SMALL"
	default:
		return "0x" + strings.ToUpper(hex32(code))
	}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = digits[v&0xF]
		v >>= 4
	}
	return string(b[:])
}
