package queue_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
)

var _ = Describe("Producer", func() {
	ev := queue.Event{
		OccurredAt: time.Now(),
		Type:       queue.EventClientCreated,
		ClientKey:  "1234/alice",
		ID:         1,
		ProposalNo: 1234,
	}

	It("drops events when Redis is not configured", func() {
		p := queue.NewNoopProducer()
		Expect(p.Publish(context.Background(), ev)).To(Succeed())
		Expect(p.Close()).To(Succeed())
	})

	It("reports an unreachable stream", func() {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		p := queue.NewRedisProducer(client, "zwop_events", nil)
		DeferCleanup(p.Close)

		err := p.Publish(context.Background(), ev)
		Expect(err).To(MatchError(ContainSubstring("publish client_created event")))
	})
})
