package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jnst/easy-reminder/internal/model"
)

const (
	fieldKind        = "kind"
	fieldScheduledID = "scheduled_id"
	oldPrefix        = "old."
	newPrefix        = "new."
)

// ErrMalformed marks a stream entry that cannot be decoded into a change event.
var ErrMalformed = errors.New("malformed change event")

// Decode converts a raw stream entry of a partition into a change event.
func Decode(partition int, id string, fields map[string]string) (*model.ChangeEvent, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: entry %s has no fields", ErrMalformed, id)
	}

	kind := model.ChangeKind(fields[fieldKind])
	switch kind {
	case model.ChangeKindInsert, model.ChangeKindModify, model.ChangeKindRemove:
	default:
		return nil, fmt.Errorf("%w: entry %s has unknown kind %q", ErrMalformed, id, kind)
	}

	event := &model.ChangeEvent{
		Kind:        kind,
		ScheduledID: fields[fieldScheduledID],
		Partition:   partition,
		Sequence:    id,
	}

	oldFields, newFields := map[string]string{}, map[string]string{}
	for k, v := range fields {
		switch {
		case strings.HasPrefix(k, oldPrefix):
			oldFields[strings.TrimPrefix(k, oldPrefix)] = v
		case strings.HasPrefix(k, newPrefix):
			newFields[strings.TrimPrefix(k, newPrefix)] = v
		}
	}

	var err error
	if len(oldFields) > 0 {
		if event.OldImage, err = model.ParseEntryImage(oldFields); err != nil {
			return nil, fmt.Errorf("%w: entry %s old image: %w", ErrMalformed, id, err)
		}
	}

	if len(newFields) > 0 {
		if event.NewImage, err = model.ParseEntryImage(newFields); err != nil {
			return nil, fmt.Errorf("%w: entry %s new image: %w", ErrMalformed, id, err)
		}
	}

	if event.ScheduledID == "" {
		return nil, fmt.Errorf("%w: entry %s has no scheduled_id", ErrMalformed, id)
	}

	return event, nil
}
