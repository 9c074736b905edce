package capture

import "fmt"

// ErrorKind classifies decode failures.
type ErrorKind int

const (
	// Header-level kinds abort the whole analysis.
	BadMagic ErrorKind = iota
	UnsupportedVersion
	TruncatedHeader
	// Record-level kinds are skippable: the record is dropped with a
	// warning and the stream continues from the next record boundary.
	CorruptRecord
	TruncatedRecord
)

func (k ErrorKind) String() string {
	switch k {
	case BadMagic:
		return "bad_magic"
	case UnsupportedVersion:
		return "unsupported_version"
	case TruncatedHeader:
		return "truncated_header"
	case CorruptRecord:
		return "corrupt_record"
	case TruncatedRecord:
		return "truncated_record"
	}
	return "unknown"
}

// DecodeError describes a failure while decoding a capture container.
type DecodeError struct {
	Kind   ErrorKind
	Offset int64
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("decode: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

// Recoverable reports whether the stream may continue past this error.
func (e *DecodeError) Recoverable() bool {
	return e.Kind == CorruptRecord || e.Kind == TruncatedRecord
}

// EngineFault is an internal invariant violation. It is always a defect in
// the decoder or its caller, never a user-recoverable condition.
type EngineFault struct {
	Op     string
	Detail string
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault in %s: %s", e.Op, e.Detail)
}
