// Package bus provides the append-only stream log every stage
// communicates through, plus the worker loop that drives a stage.
package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Record is one entry read from a stream.
type Record struct {
	ID   string
	Data []byte
}

// EventBus is the transport between stages. Both implementations keep
// FIFO order per stream and assign monotonically increasing ids of the
// form "seq-subseq".
type EventBus interface {
	// Publish appends the payload to the stream and returns its id.
	Publish(ctx context.Context, stream string, payload []byte) (string, error)
	// Read returns up to count records with ids strictly greater than
	// lastID, blocking up to block waiting for arrivals. An empty slice
	// means the wait timed out.
	Read(ctx context.Context, stream, lastID string, block int, count int) ([]Record, error)
	Close() error
}

// StartID is the cursor that reads a stream from its beginning.
const StartID = "0-0"

// LatestID is the cursor that skips history and reads only records
// published after the worker starts.
const LatestID = "$"

// compareIDs orders two "seq-subseq" ids numerically. Malformed parts
// compare as zero, matching how an empty cursor behaves.
func compareIDs(a, b string) int {
	aSeq, aSub := splitID(a)
	bSeq, bSub := splitID(b)
	if aSeq != bSeq {
		if aSeq < bSeq {
			return -1
		}
		return 1
	}
	if aSub != bSub {
		if aSub < bSub {
			return -1
		}
		return 1
	}
	return 0
}

func splitID(id string) (int64, int64) {
	seqPart, subPart, _ := strings.Cut(id, "-")
	seq, _ := strconv.ParseInt(seqPart, 10, 64)
	sub, _ := strconv.ParseInt(subPart, 10, 64)
	return seq, sub
}

// NextID returns the id immediately after the given one, for range
// scans that must not revisit the last record.
func NextID(id string) string {
	seq, sub := splitID(id)
	return fmt.Sprintf("%d-%d", seq, sub+1)
}
