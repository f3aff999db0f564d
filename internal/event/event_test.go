package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/codelive/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.ended"),
						eventWithName("session.code_edited"),
					},
					subscribers: []subscriber{
						{name: "display", subscribeTo: []string{"session.code_edited"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.code_edited")}, out.received["display"])
			},
		},

		"repeated events should all be delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.code_edited"),
						eventWithName("session.code_edited"),
						eventWithName("session.code_edited"),
					},
					subscribers: []subscriber{
						{name: "display", subscribeTo: []string{"session.code_edited"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["display"], 3)
			},
		},

		"an event should reach every subscriber of its name": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.problem_updated"),
					},
					subscribers: []subscriber{
						{name: "display", subscribeTo: []string{"session.problem_updated"}},
						{name: "metrics", subscribeTo: []string{"session.problem_updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.problem_updated")}, out.received["display"])
				assert.ElementsMatch(t, []event.Event{eventWithName("session.problem_updated")}, out.received["metrics"])
			},
		},

		"mixed events should be routed to the right subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.code_edited"),
						eventWithName("session.ended"),
						eventWithName("session.code_edited"),
						eventWithName("session.submission_featured"),
					},
					subscribers: []subscriber{
						{name: "display", subscribeTo: []string{"session.code_edited", "session.submission_featured"}},
						{name: "audit", subscribeTo: []string{"session.ended"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{
					eventWithName("session.code_edited"),
					eventWithName("session.code_edited"),
					eventWithName("session.submission_featured"),
				}, out.received["display"])
				assert.ElementsMatch(t, []event.Event{eventWithName("session.ended")}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailureIsolation(t *testing.T) {
	t.Parallel()

	b := event.NewBus(event.WithPoolSize(2))

	var (
		mu    sync.Mutex
		calls []string
	)

	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		panic("broken subscriber")
	})
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		return errors.New("failing subscriber")
	})
	b.Subscribe("session.ended", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		calls = append(calls, e.Name())
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), eventWithName("session.ended"))
	b.Stop()

	assert.Equal(t, []string{"session.ended"}, calls, "healthy subscriber should still run")
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
