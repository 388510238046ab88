// Package changefeed adapts a change broker to per-conversation callbacks.
package changefeed

import (
	"context"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

// Subscribe calls onMessage and onWorkflow for changes to conversationID until
// the returned func is called or ctx is done. Callbacks run on one goroutine
// in publish order. Either callback may be nil.
func Subscribe(ctx context.Context, broker *pubsub.Broker[domain.Change], conversationID string, onMessage func(domain.Message), onWorkflow func(domain.Workflow)) func() {
	subCtx, cancel := context.WithCancel(ctx)
	ch := broker.Subscribe(subCtx)
	filter := domain.ChangeFilter{ConversationID: conversationID}

	log.SafeGo("changefeed.dispatch", func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if filter.Matches(ev.Payload) {
					ev.Payload.Dispatch(onMessage, onWorkflow)
				}
			}
		}
	})

	log.Debug(log.CatPubSub, "Subscribed to conversation", "conversation", conversationID)
	return cancel
}

// Stream returns the changes to conversationID as a channel. The channel is
// closed when ctx is done or the broker closes. A slow reader loses events
// the same way a slow broker subscriber does.
func Stream(ctx context.Context, broker *pubsub.Broker[domain.Change], conversationID string) <-chan domain.Change {
	ch := broker.Subscribe(ctx)
	out := make(chan domain.Change, pubsub.DefaultBufferSize)
	filter := domain.ChangeFilter{ConversationID: conversationID}

	log.SafeGo("changefeed.stream", func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !filter.Matches(ev.Payload) {
					continue
				}
				select {
				case out <- ev.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	return out
}
