package base

import (
	"context"
	"fmt"
	"sync"
)

type subscriberEdge struct {
	target    Writable
	converter Converter
}

// Publisher implements the fan-out half of Subscribable. Connectable types
// embed it and call Publish from their own Write/publish logic once their
// own state has been updated; Publisher itself holds no value.
//
// Publisher is safe for concurrent use: Subscribe may run concurrently with
// Publish, and concurrent Publish calls on the same Publisher do not block
// each other beyond the brief lock held to snapshot the subscriber list.
type Publisher struct {
	mu   sync.Mutex
	subs []subscriberEdge
}

// Subscribe registers target to receive future published values. If
// converter is non-nil, it is applied to the value before each delivery to
// target.
func (p *Publisher) Subscribe(target Writable, converter Converter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, subscriberEdge{target: target, converter: converter})
}

// SubscriberCount reports the number of currently registered subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Publish fans value out to every subscriber whose identity is not already
// present in origin. Subscribers are delivered to concurrently; Publish
// awaits all deliveries before returning and reports the first error
// encountered, if any — later errors are silently dropped by Publish itself
// (Timer logs the error Publish returns; Variable returns it to the writer).
//
// self is the identity of the Subscribable doing the publishing; it is
// appended to the origin handed to each delivered subscriber, which is what
// keeps a multi-hop cycle from ever revisiting the same object twice
// regardless of how the connection graph is wired.
func (p *Publisher) Publish(ctx context.Context, self Identity, value any, origin Origin) error {
	p.mu.Lock()
	subs := make([]subscriberEdge, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	var deliverable []subscriberEdge
	for _, s := range subs {
		if !origin.Contains(s.target.Identity()) {
			deliverable = append(deliverable, s)
		}
	}
	if len(deliverable) == 0 {
		return nil
	}
	nextOrigin := origin.With(self)

	var wg sync.WaitGroup
	errCh := make(chan error, len(deliverable))
	wg.Add(len(deliverable))
	for _, s := range deliverable {
		go func(s subscriberEdge) {
			defer wg.Done()
			v := value
			if s.converter != nil {
				converted, err := s.converter(value)
				if err != nil {
					errCh <- fmt.Errorf("%w: delivering to %v: %v", ErrConversion, s.target.Identity(), err)
					return
				}
				v = converted
			}
			if err := s.target.Write(ctx, v, nextOrigin); err != nil {
				errCh <- err
			}
		}(s)
	}
	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if first == nil {
			first = err
		}
	}
	return first
}

// ProviderHolder implements the storage half of Reading. Connectable types
// embed it and call FromProvider to resolve their default value at startup
// or on demand.
type ProviderHolder struct {
	mu              sync.Mutex
	provider        Readable
	converter       Converter
	readingOptional bool
}

// SetProvider registers provider as the default value source. A subsequent
// call replaces any previously registered provider.
func (p *ProviderHolder) SetProvider(provider Readable, converter Converter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = provider
	p.converter = converter
}

// SetReadingOptional marks whether the absence of a provider is acceptable
// (true) or a configuration error for whoever constructs this holder (false,
// the default via zero value).
func (p *ProviderHolder) SetReadingOptional(optional bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readingOptional = optional
}

// FromProvider resolves the current value from the registered provider, if
// any. The second return value reports whether a provider was registered at
// all; callers (e.g. Variable.Initialize) use it to distinguish "no
// provider configured" from "provider configured but read failed".
func (p *ProviderHolder) FromProvider(ctx context.Context) (value any, hasProvider bool, err error) {
	p.mu.Lock()
	provider, converter := p.provider, p.converter
	p.mu.Unlock()

	if provider == nil {
		return nil, false, nil
	}
	v, err := provider.Read(ctx)
	if err != nil {
		return nil, true, err
	}
	if converter != nil {
		v, err = converter(v)
		if err != nil {
			return nil, true, err
		}
	}
	return v, true, nil
}
