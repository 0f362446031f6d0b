package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewTaskID returns a ULID stamped with t. Entropy comes from one
// process-wide monotonic source, so IDs minted within the same millisecond
// (including under a frozen test clock) still differ and sort in creation
// order.
func NewTaskID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
