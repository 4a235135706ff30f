// Package pool implements the feed and article lifecycle state machines.
//
// All functions here are pure with respect to storage: they validate a
// transition and mutate the value passed in, leaving persistence to callers.
package pool

import (
	"errors"
	"fmt"
	"time"

	"silentfeed/internal/model"
)

// ErrInvalidTransition is returned when a state change is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

func invalid(kind, from, action string) error {
	return fmt.Errorf("%w: cannot %s %s %s", ErrInvalidTransition, action, kind, from)
}

// Subscribe moves a candidate or ignored feed to subscribed.
func Subscribe(f *model.Feed, source model.SubscriptionSource, now time.Time) error {
	switch f.Status {
	case model.FeedCandidate, model.FeedIgnored:
	case model.FeedSubscribed:
		return invalid("feed", string(f.Status), "subscribe")
	default:
		return fmt.Errorf("unknown feed status %q", f.Status)
	}
	if !source.Valid() {
		return fmt.Errorf("unknown subscription source %q", source)
	}
	f.Status = model.FeedSubscribed
	f.IsActive = true
	f.SubscribedAt = &now
	f.SubscriptionSource = source
	return nil
}

// Unsubscribe moves a subscribed feed to ignored. The caller must also exit
// the feed's pooled articles with ExitOnUnsubscribe.
func Unsubscribe(f *model.Feed, now time.Time) error {
	switch f.Status {
	case model.FeedSubscribed:
	case model.FeedCandidate, model.FeedIgnored:
		return invalid("feed", string(f.Status), "unsubscribe")
	default:
		return fmt.Errorf("unknown feed status %q", f.Status)
	}
	f.Status = model.FeedIgnored
	f.IsActive = false
	f.UnsubscribedAt = &now
	return nil
}

// Ignore moves a candidate feed to ignored.
func Ignore(f *model.Feed) error {
	switch f.Status {
	case model.FeedCandidate:
	case model.FeedSubscribed, model.FeedIgnored:
		return invalid("feed", string(f.Status), "ignore")
	default:
		return fmt.Errorf("unknown feed status %q", f.Status)
	}
	f.Status = model.FeedIgnored
	f.IsActive = false
	return nil
}

// CanDelete reports whether a feed may be removed. Subscribed feeds must be
// unsubscribed first.
func CanDelete(f *model.Feed) error {
	switch f.Status {
	case model.FeedCandidate, model.FeedIgnored:
		return nil
	case model.FeedSubscribed:
		return invalid("feed", string(f.Status), "delete")
	default:
		return fmt.Errorf("unknown feed status %q", f.Status)
	}
}

// ToggleActive pauses or resumes a subscribed feed and returns the new flag.
func ToggleActive(f *model.Feed) (bool, error) {
	switch f.Status {
	case model.FeedSubscribed:
	case model.FeedCandidate, model.FeedIgnored:
		return false, invalid("feed", string(f.Status), "toggle")
	default:
		return false, fmt.Errorf("unknown feed status %q", f.Status)
	}
	f.IsActive = !f.IsActive
	return f.IsActive, nil
}
