package generation

import "context"

// Stream is an in-flight streamed generation. Fragments arrive on Chunks in
// provider order; Result resolves once the provider call has settled.
type Stream struct {
	chunks chan string
	done   chan struct{}
	result Result
	err    error
}

// NewStream runs produce on its own goroutine. Every fragment passed to emit
// is handed to the Chunks reader; emit gives up when ctx is done.
func NewStream(ctx context.Context, produce func(emit func(string)) (Result, error)) *Stream {
	s := &Stream{
		chunks: make(chan string),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		emit := func(fragment string) {
			select {
			case s.chunks <- fragment:
			case <-ctx.Done():
			}
		}
		result, err := produce(emit)
		close(s.chunks)
		s.result, s.err = result, err
	}()

	return s
}

// Chunks returns the fragment channel. It is closed after the last fragment.
// The channel is single pass: fragments read here are not replayed.
func (s *Stream) Chunks() <-chan string {
	return s.chunks
}

// Result drains any unread fragments and returns the aggregate. A blocked or
// failed call still delivers its partial fragments before the error.
func (s *Stream) Result(ctx context.Context) (Result, error) {
drain:
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				break drain
			}
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
