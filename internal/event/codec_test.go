package event

import (
	"strconv"
	"strings"
	"testing"

	"github.com/bobisme/bones/internal/canon"
	"github.com/bobisme/bones/internal/model"
)

func buildCreateEvent(t *testing.T) *Event {
	t.Helper()
	return &Event{
		WallTSUs: 1_700_000_000_000_000,
		Agent:    "alice",
		ITC:      "itc1",
		Type:     model.EventCreate,
		ItemID:   model.ItemID("bn-aaaa"),
		Data:     []byte(`{"title": "hello", "kind": "task", "urgency": "normal"}`),
	}
}

// rawLine builds a TSJSON line directly from field values, bypassing
// Write's own canonicalization/hashing so tests can construct
// deliberately malformed or mismatched lines for Parse to reject.
func rawLine(t *testing.T, wallTSUs int64, agent, itc, parents, eventType, itemID string, data []byte, hash string) string {
	t.Helper()
	canonicalData, err := canon.CanonicalizeBytes(data)
	if err != nil {
		t.Fatalf("CanonicalizeBytes: %v", err)
	}
	fields := []string{
		strconv.FormatInt(wallTSUs, 10), agent, itc, parents, eventType, itemID, string(canonicalData), hash,
	}
	return strings.Join(fields, "\t")
}

func TestWriteParseRoundTrip(t *testing.T) {
	e := buildCreateEvent(t)
	line, err := Write(e)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	parsed, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Agent != e.Agent || parsed.ITC != e.ITC || parsed.Type != e.Type || parsed.ItemID != e.ItemID {
		t.Fatalf("round trip lost fields: got %+v", parsed)
	}
	if parsed.WallTSUs != e.WallTSUs {
		t.Fatalf("WallTSUs = %d, want %d", parsed.WallTSUs, e.WallTSUs)
	}

	line2, err := Write(parsed)
	if err != nil {
		t.Fatalf("re-Write: %v", err)
	}
	if line2 != line {
		t.Fatalf("write(parse(line)) != line:\ngot:  %q\nwant: %q", line2, line)
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	if _, err := Parse("only\tfour\tfields\there"); err == nil {
		t.Fatalf("expected a field-count error")
	}
}

func TestParseRejectsHashMismatch(t *testing.T) {
	e := buildCreateEvent(t)
	line, err := Write(e)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	tampered := line[:len(line)-1] + "0"
	if _, err := Parse(tampered); err == nil {
		t.Fatalf("expected a hash mismatch error on a tampered line")
	}
}

func TestParseRejectsUnknownEventType(t *testing.T) {
	line := rawLine(t, 100, "alice", "itc1", "", "item.bogus", "bn-aaaa",
		[]byte(`{"title":"x"}`), canon.HashPrefix+strings.Repeat("a", 64))
	if _, err := Parse(line); err == nil {
		t.Fatalf("expected an unknown-event-type error")
	}
}

func TestParseRejectsDataSchemaMismatch(t *testing.T) {
	data := []byte(`{"kind":"task"}`) // missing required title
	line := rawLine(t, 100, "alice", "itc1", "", "item.create", "bn-aaaa",
		data, canon.HashPrefix+strings.Repeat("a", 64))
	if _, err := Parse(line); err == nil {
		t.Fatalf("expected a data-schema error for a missing required field")
	}
}

func TestParseRejectsMalformedParentToken(t *testing.T) {
	line := rawLine(t, 100, "alice", "itc1", "not-a-hash", "item.create", "bn-aaaa",
		[]byte(`{"title":"x"}`), canon.HashPrefix+strings.Repeat("a", 64))
	if _, err := Parse(line); err == nil {
		t.Fatalf("expected a malformed parent token error")
	}
}

func TestParseRejectsInvalidItemID(t *testing.T) {
	line := rawLine(t, 100, "alice", "itc1", "", "item.create", "not_an_id",
		[]byte(`{"title":"x"}`), canon.HashPrefix+strings.Repeat("a", 64))
	if _, err := Parse(line); err == nil {
		t.Fatalf("expected an invalid item id error")
	}
}

func TestClassifyLineKinds(t *testing.T) {
	cases := map[string]LineKind{
		"":                      LineBlank,
		"   ":                   LineBlank,
		"# a comment":           LineComment,
		"# bones event log v1":  LineComment,
		"100\talice\titc1\t\titem.create\tbn-aaaa\t{}\tblake3:x": LineData,
	}
	for line, want := range cases {
		if got := Classify(line); got != want {
			t.Fatalf("Classify(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestValidateDataLabelsUpdate(t *testing.T) {
	data := []byte(`{"field":"labels","value":{"action":"add","label":"urgent"}}`)
	canonical, err := canon.CanonicalizeBytes(data)
	if err != nil {
		t.Fatalf("CanonicalizeBytes: %v", err)
	}
	if err := ValidateData(model.EventUpdate, canonical); err != nil {
		t.Fatalf("ValidateData: %v", err)
	}
}

func TestValidateDataMoveRejectsUnknownPhase(t *testing.T) {
	data := []byte(`{"state":"not_a_phase"}`)
	canonical, err := canon.CanonicalizeBytes(data)
	if err != nil {
		t.Fatalf("CanonicalizeBytes: %v", err)
	}
	if err := ValidateData(model.EventMove, canonical); err == nil {
		t.Fatalf("expected an error for an unknown move state")
	}
}
