package async

import (
	"context"
	"time"
)

// Debounce events fired over a channel by a specified duration, ensuring the
// handler is only called once after the events stop firing for that interval.
// Blocks until the context is done or the events channel closes.
func Debounce(ctx context.Context, interval time.Duration, eventsChan <-chan interface{}, handleFn func(event interface{})) {
	for event := range eventsChan {
	loop:
		for {
			timer := time.NewTimer(interval)
			select {
			case event = <-eventsChan:
				// Each new event resets the timer, so a rapid burst of
				// events collapses into a single handler invocation.
				timer.Stop()
			case <-timer.C:
				handleFn(event)
				break loop
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}
