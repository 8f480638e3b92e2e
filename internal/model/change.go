package model

// ChangeKind represents the mutation type of a change event.
type ChangeKind string

const (
	// ChangeKindInsert is emitted when a scheduled entry is created.
	ChangeKindInsert ChangeKind = "INSERT"
	// ChangeKindModify is emitted when a scheduled entry is updated in place.
	ChangeKindModify ChangeKind = "MODIFY"
	// ChangeKindRemove is emitted when a scheduled entry is reaped or cancelled.
	ChangeKindRemove ChangeKind = "REMOVE"
)

// ChangeEvent is a mutation of the schedule queue as read from the change stream.
type ChangeEvent struct {
	Kind        ChangeKind  `json:"kind"`
	ScheduledID string      `json:"scheduled_id"`
	Partition   int         `json:"partition"`
	Sequence    string      `json:"sequence"`
	OldImage    *EntryImage `json:"old_image,omitempty"`
	NewImage    *EntryImage `json:"new_image,omitempty"`
}
