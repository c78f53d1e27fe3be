package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to unblock a producer whose output is no longer wanted, e.g. the
// frame channel of a [Stream] being torn down.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
