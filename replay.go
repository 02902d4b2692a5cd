package bones

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/shard"
)

// decodeEventStream reads every data line out of r (a replay stream
// positioned at startOffset), parsing each via event.Parse, and reports
// the absolute byte offset and event hash the stream ended at. Comment
// and blank lines (spec.md §4.2's tolerant scan rules) are skipped
// without affecting the offset math, since the offset is computed purely
// from bytes consumed.
//
// Lines whose event type is not in the known catalog are skipped with a
// warning rather than rejected, per spec.md §3/§7's forward-compatibility
// rule: a newer writer's new event types must not break an older reader's
// replay. Every other parse failure is still a hard error, since only the
// event-type dimension is declared forward-compatible.
func decodeEventStream(r io.Reader, startOffset int64, logger *slog.Logger) ([]*event.Event, int64, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	br := bufio.NewReaderSize(r, 64*1024)
	offset := startOffset
	var lastHash string
	var events []*event.Event
	lineNo := 0

	for {
		line, err := br.ReadString('\n')
		if len(line) == 0 && err == io.EOF {
			break
		}
		lineNo++
		consumed := int64(len(line))
		trimmed := line
		if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '\n' {
			trimmed = trimmed[:len(trimmed)-1]
		}
		offset += consumed

		switch event.Classify(trimmed) {
		case event.LineComment, event.LineBlank:
			// header/comment/blank lines don't carry an event hash, but a
			// header naming a newer format version stops the replay.
			if v, ok := strings.CutPrefix(trimmed, shard.HeaderPrefix); ok {
				if n, verr := strconv.Atoi(strings.TrimSpace(v)); verr == nil && n > shard.CurrentVersion {
					return nil, 0, "", boneserr.Newf(boneserr.KindVersion,
						"shard format v%d is newer than supported v%d; upgrade bones", n, shard.CurrentVersion).WithLine(lineNo)
				}
			}
		default:
			if partial, perr := event.ParsePartial(trimmed); perr == nil && !partial.KnownType() {
				logger.Warn("bones: skipping event with unknown type during replay",
					"line", lineNo, "event_type", partial.Type)
			} else {
				e, perr := event.Parse(trimmed)
				if perr != nil {
					var pe *boneserr.ParseError
					if errors.As(perr, &pe) {
						perr = pe.WithLine(lineNo)
					}
					return nil, 0, "", boneserr.Wrap(boneserr.KindProjection, "parsing replayed event line", perr)
				}
				events = append(events, e)
				lastHash = e.EventHash
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, "", boneserr.Wrap(boneserr.KindIO, "reading replay stream", err)
		}
	}

	return events, offset, lastHash, nil
}
