package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bobisme/bones/internal/model"
)

// ValidateData checks that canonicalData matches the schema required for
// eventType, per spec.md §4.2's "data schema mismatch" error case.
func ValidateData(eventType model.EventType, canonicalData []byte) error {
	switch eventType {
	case model.EventCreate:
		var d CreateData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Title == "" {
			return fmt.Errorf("create: title is required")
		}
		if d.Kind != "" && !d.Kind.Valid() {
			return fmt.Errorf("create: unknown kind %q", d.Kind)
		}
		if d.Size != nil && !d.Size.Valid() {
			return fmt.Errorf("create: unknown size %q", *d.Size)
		}
		if d.Urgency != "" && !d.Urgency.Valid() {
			return fmt.Errorf("create: unknown urgency %q", d.Urgency)
		}
		return nil

	case model.EventUpdate:
		var d UpdateData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Field == "" {
			return fmt.Errorf("update: field is required")
		}
		return nil

	case model.EventMove:
		var d MoveData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if !d.State.Valid() {
			return fmt.Errorf("move: unknown state %q", d.State)
		}
		return nil

	case model.EventAssign:
		var d AssignData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Agent == "" {
			return fmt.Errorf("assign: agent is required")
		}
		if d.Action != model.AssignAdd && d.Action != model.AssignRemove {
			return fmt.Errorf("assign: unknown action %q", d.Action)
		}
		return nil

	case model.EventComment:
		var d CommentData
		return strictUnmarshal(canonicalData, &d)

	case model.EventLink:
		var d LinkData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Target == "" {
			return fmt.Errorf("link: target is required")
		}
		return nil

	case model.EventUnlink:
		var d UnlinkData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Target == "" {
			return fmt.Errorf("unlink: target is required")
		}
		return nil

	case model.EventDelete:
		var d DeleteData
		return strictUnmarshal(canonicalData, &d)

	case model.EventCompact:
		var d CompactData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Summary == "" {
			return fmt.Errorf("compact: summary is required")
		}
		return nil

	case model.EventSnapshot:
		var d SnapshotData
		return strictUnmarshal(canonicalData, &d)

	case model.EventRedact:
		var d RedactData
		if err := strictUnmarshal(canonicalData, &d); err != nil {
			return err
		}
		if d.Target == "" {
			return fmt.Errorf("redact: target is required")
		}
		return nil

	default:
		// Unknown event types are handled by the caller (warn-and-skip on
		// replay, hard error on single-line parse) before reaching here.
		return fmt.Errorf("unknown event type %q", eventType)
	}
}

// strictUnmarshal decodes raw into v and rejects unknown fields, so a
// malformed payload surfaces as a schema mismatch rather than silently
// dropping data.
func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("schema mismatch: %w", err)
	}
	return nil
}
