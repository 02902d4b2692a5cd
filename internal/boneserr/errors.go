// Package boneserr defines the closed error-kind taxonomy shared by the
// codec, shard, and projector layers (spec.md §7). Grounded on the
// teacher's pattern of small exported sentinel/structured errors
// (storage.ErrDBNotInitialized, the CollisionResult/RenameDetail result
// types in internal/storage/sqlite/collision.go) generalized into a
// closed enum so callers can switch on Kind with errors.As.
package boneserr

import "fmt"

// Kind is a closed taxonomy of the error categories named in spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindFormatFieldCount
	KindFormatTimestamp
	KindFormatAgent
	KindFormatItc
	KindFormatParentToken
	KindFormatEventType
	KindFormatItemID
	KindFormatDataJSON
	KindFormatDataSchema
	KindFormatHashPrefix
	KindFormatHashMismatch
	KindVersion
	KindIO
	KindLockTimeout
	KindProjection
	KindProjectionCommit
	KindCacheAbsent
	KindCacheCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindFormatFieldCount:
		return "format.field_count"
	case KindFormatTimestamp:
		return "format.timestamp"
	case KindFormatAgent:
		return "format.agent"
	case KindFormatItc:
		return "format.itc"
	case KindFormatParentToken:
		return "format.parent_token"
	case KindFormatEventType:
		return "format.event_type"
	case KindFormatItemID:
		return "format.item_id"
	case KindFormatDataJSON:
		return "format.data_json"
	case KindFormatDataSchema:
		return "format.data_schema"
	case KindFormatHashPrefix:
		return "format.hash_prefix"
	case KindFormatHashMismatch:
		return "format.hash_mismatch"
	case KindVersion:
		return "version"
	case KindIO:
		return "io"
	case KindLockTimeout:
		return "lock_timeout"
	case KindProjection:
		return "projection"
	case KindProjectionCommit:
		return "projection_commit"
	case KindCacheAbsent:
		return "cache_absent"
	case KindCacheCorrupt:
		return "cache_corrupt"
	default:
		return "unknown"
	}
}

// ParseError is the structured error surfaced by the codec and replay
// driver. Line is 1-based and zero when not applicable (e.g. a single-line
// parse call rather than a shard scan).
type ParseError struct {
	Kind Kind
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d: %s", e.Kind, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// New builds a ParseError with no line context (single-line parse path).
func New(kind Kind, msg string) *ParseError {
	return &ParseError{Kind: kind, Msg: msg}
}

// Newf builds a ParseError with a formatted message.
func Newf(kind Kind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithLine returns a copy of e annotated with a 1-based line number, for
// the replay driver's (line_number, kind) reporting contract.
func (e *ParseError) WithLine(line int) *ParseError {
	cp := *e
	cp.Line = line
	return &cp
}

// Wrap attaches an underlying I/O or version cause to a new ParseError.
func Wrap(kind Kind, msg string, cause error) *ParseError {
	return &ParseError{Kind: kind, Msg: msg, Err: cause}
}
