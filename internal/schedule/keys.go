package schedule

import (
	"hash/fnv"
	"strconv"
)

// All keys share the {sched} hash tag so every script touches a single cluster slot.
const (
	keyPrefix         = "{sched}:"
	entryKeyPrefix    = keyPrefix + "entry:"
	reminderKeyPrefix = keyPrefix + "reminder:"
	streamKeyPrefix   = keyPrefix + "changes:"
	dueKey            = keyPrefix + "due"
)

func entryKey(scheduledID string) string {
	return entryKeyPrefix + scheduledID
}

func reminderKey(reminderID string) string {
	return reminderKeyPrefix + reminderID
}

// StreamKey returns the change stream key of a partition.
func StreamKey(partition int) string {
	return streamKeyPrefix + strconv.Itoa(partition)
}

// StreamKeys returns the change stream keys of all partitions.
func StreamKeys(partitions int) []string {
	keys := make([]string, partitions)
	for p := range keys {
		keys[p] = StreamKey(p)
	}

	return keys
}

// PartitionOf maps a scheduled id onto one of n partitions.
func PartitionOf(scheduledID string, n int) int {
	if n <= 1 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(scheduledID))

	return int(h.Sum32() % uint32(n))
}
