package eventpubsub

import (
	"io"

	"github.com/google/uuid"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
)

const replaySource = "replay"

// Replay republishes every record of a durable log in original order and
// returns the per-type counts. Consumers are responsible for idempotence
// under replay.
func Replay(r io.Reader, bus *Bus) (map[eventmodels.EventName]int, error) {
	records, err := ReadLogRecords(r)
	if err != nil {
		return nil, err
	}

	counts := make(map[eventmodels.EventName]int)
	for _, record := range records {
		bus.Publish(eventmodels.Event{
			Type:          record.Type,
			Payload:       record.Payload,
			Source:        replaySource,
			CorrelationID: uuid.New(),
		})
		counts[record.Type]++
	}

	return counts, nil
}
