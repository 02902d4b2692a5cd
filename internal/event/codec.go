package event

import (
	"strconv"
	"strings"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/canon"
	"github.com/bobisme/bones/internal/model"
)

// FieldCount is the number of tab-separated fields in a TSJSON line
// (spec.md §4.2).
const FieldCount = 8

// PartialEvent is the result of the zero-copy partial parse path (§4.2
// mode 2): it borrows slices from the input line and validates only
// field count, timestamp, and event-type string — used by scan/filter
// paths that don't need the full hash/schema validation.
type PartialEvent struct {
	Line      string
	WallTSUs  int64
	Agent     string
	ITC       string
	Parents   string // raw comma-joined token list, unsplit
	Type      string // raw event-type string, possibly unknown
	ItemID    string
	Data      string
	EventHash string
}

// KnownType reports whether p.Type is one of the catalog's known event
// verbs. Used by the replay driver to warn-and-skip forward-compatible
// unknown event types without invoking the full parse/hash-check path.
func (p *PartialEvent) KnownType() bool {
	return model.EventType(p.Type).Valid()
}

// ParsePartial validates only field count, timestamp, and the presence of
// an event-type string; it never rejects unknown event types or invalid
// hashes, so it is safe to run over untrusted or forward-compatible
// shards during a coarse scan.
func ParsePartial(line string) (*PartialEvent, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != FieldCount {
		return nil, boneserr.Newf(boneserr.KindFormatFieldCount, "got %d fields, want %d", len(fields), FieldCount)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, boneserr.Newf(boneserr.KindFormatTimestamp, "invalid wall_ts_us %q", fields[0])
	}
	if fields[4] == "" {
		return nil, boneserr.New(boneserr.KindFormatEventType, "empty event type")
	}
	return &PartialEvent{
		Line:      line,
		WallTSUs:  ts,
		Agent:     fields[1],
		ITC:       fields[2],
		Parents:   fields[3],
		Type:      fields[4],
		ItemID:    fields[5],
		Data:      fields[6],
		EventHash: fields[7],
	}, nil
}

// Parse performs the full parse contract (§4.2 mode 1): validates every
// field, recomputes the event_hash, and returns a fully-owned *Event.
// Unknown event types are a hard error in this path (forward compatibility
// is only extended to the replay driver's warn-and-skip behavior, which
// calls ParsePartial first and only invokes Parse for known types).
func Parse(line string) (*Event, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != FieldCount {
		return nil, boneserr.Newf(boneserr.KindFormatFieldCount, "got %d fields, want %d", len(fields), FieldCount)
	}
	wallTSField, agent, itc, parentsField, typeField, itemIDField, dataField, hashField := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]

	wallTS, err := strconv.ParseInt(wallTSField, 10, 64)
	if err != nil {
		return nil, boneserr.Newf(boneserr.KindFormatTimestamp, "invalid wall_ts_us %q", wallTSField)
	}

	if agent == "" || strings.ContainsAny(agent, "\t\n") {
		return nil, boneserr.Newf(boneserr.KindFormatAgent, "invalid agent %q", agent)
	}

	if itc == "" {
		return nil, boneserr.New(boneserr.KindFormatItc, "empty itc")
	}

	var parents []string
	if parentsField != "" {
		parents = strings.Split(parentsField, ",")
		for _, p := range parents {
			if !canon.ValidHashToken(p) {
				return nil, boneserr.Newf(boneserr.KindFormatParentToken, "malformed parent token %q", p)
			}
		}
	}

	eventType := model.EventType(typeField)
	if !eventType.Valid() {
		return nil, boneserr.Newf(boneserr.KindFormatEventType, "unknown event type %q", typeField)
	}

	itemID := model.ItemID(itemIDField)
	if !itemID.Valid() {
		return nil, boneserr.Newf(boneserr.KindFormatItemID, "invalid item id %q", itemIDField)
	}

	canonicalData, err := canon.CanonicalizeBytes([]byte(dataField))
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindFormatDataJSON, "invalid data json", err)
	}

	if err := ValidateData(eventType, canonicalData); err != nil {
		return nil, boneserr.Wrap(boneserr.KindFormatDataSchema, err.Error(), err)
	}

	if !canon.ValidHashToken(hashField) {
		return nil, boneserr.Newf(boneserr.KindFormatHashPrefix, "malformed event hash %q", hashField)
	}

	computed := canon.HashFields(wallTSField, agent, itc, parentsField, typeField, itemIDField, canonicalData)
	if computed != hashField {
		return nil, boneserr.Newf(boneserr.KindFormatHashMismatch, "%s", canon.FormatHashError(hashField, computed))
	}

	return &Event{
		WallTSUs:  wallTS,
		Agent:     agent,
		ITC:       itc,
		Parents:   parents,
		Type:      eventType,
		ItemID:    itemID,
		Data:      canonicalData,
		EventHash: hashField,
	}, nil
}

// Write renders e to its TSJSON line (without trailing newline). If
// e.EventHash is empty, the hash is computed from the other seven fields;
// if non-empty, it is used as-is (round-trip: write(parse(line)) == line).
// Data is always re-canonicalized so that writers never persist a payload
// whose key order or whitespace the hash contract doesn't cover.
func Write(e *Event) (string, error) {
	canonicalData, err := canon.CanonicalizeBytes(e.Data)
	if err != nil {
		return "", boneserr.Wrap(boneserr.KindFormatDataJSON, "invalid data json", err)
	}

	wallTSField := strconv.FormatInt(e.WallTSUs, 10)
	parentsField := strings.Join(e.Parents, ",")
	typeField := string(e.Type)
	itemIDField := e.ItemID.String()

	hash := e.EventHash
	if hash == "" {
		hash = canon.HashFields(wallTSField, e.Agent, e.ITC, parentsField, typeField, itemIDField, canonicalData)
	}

	fields := []string{wallTSField, e.Agent, e.ITC, parentsField, typeField, itemIDField, string(canonicalData), hash}
	return strings.Join(fields, "\t"), nil
}

// LineKind classifies a raw line from a shard file during replay.
type LineKind int

const (
	LineData LineKind = iota
	LineComment
	LineBlank
)

// Classify reports whether line is a data line, a "#"-prefixed comment
// (including the shard header), or blank/whitespace-only. Comment and
// blank lines are ignored during replay per spec.md §6, except the very
// shard header line, whose format version the replay driver checks
// separately.
func Classify(line string) LineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return LineBlank
	case strings.HasPrefix(trimmed, "#"):
		return LineComment
	default:
		return LineData
	}
}
