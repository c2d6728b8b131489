package conversation

import "time"

// newTimer is swappable in tests to make debounce behavior deterministic.
var newTimer = func(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, fn)
}
