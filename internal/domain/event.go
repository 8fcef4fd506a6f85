package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// ScheduleChannel is the notification channel schedule changes are published on.
const ScheduleChannel = "schedule_changes"

type ChangeAction string

const (
	ActionInserted ChangeAction = "inserted"
	ActionUpdated  ChangeAction = "updated"
	ActionDeleted  ChangeAction = "deleted"
)

type ChangeEvent struct {
	Action       ChangeAction `json:"action"`
	ScheduleID   int64        `json:"schedule_id"`
	DatabaseName string       `json:"database_name"`
	Enabled      bool         `json:"enabled"`
	OldEnabled   *bool        `json:"old_enabled,omitempty"`
}

func ParseChangeEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}

	switch ev.Action {
	case ActionInserted, ActionUpdated, ActionDeleted:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change action %q", ev.Action)
	}
	if ev.ScheduleID == 0 {
		return ChangeEvent{}, fmt.Errorf("change event without schedule_id")
	}

	return ev, nil
}

func (e ChangeEvent) Payload() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Notification is a raw message received on a notification channel. A nil
// *Notification delivered by a source means the connection was re-established
// and events may have been missed.
type Notification struct {
	Channel string
	Payload string
}

type Subscription interface {
	Notifications() <-chan *Notification
	Ping(ctx context.Context) error
	Close() error
}

type NotificationSource interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
