package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
)

var _ = Describe("TraceHandler", func() {
	It("adds context fields to every record", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ProposalNo: logger.Ptr(1234),
			Component:  "zwop.http",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{BotKey: logger.Ptr("mylog.connect.xfel.eu/77")})

		log.InfoContext(ctx, "sent")

		Expect(buf.String()).To(ContainSubstring(`"proposal_no":1234`))
		Expect(buf.String()).To(ContainSubstring(`"bot_key":"mylog.connect.xfel.eu/77"`))
		Expect(buf.String()).To(ContainSubstring(`"component":"zwop.http"`))
		Expect(buf.String()).NotTo(ContainSubstring("trace_id"))
	})
})

var _ = Describe("WithLogFields", func() {
	It("keeps earlier fields that later calls leave unset", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{Component: "a", RequestID: logger.Ptr(int64(7))})
		ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "b"})

		fields := logger.GetLogFields(ctx)
		Expect(fields.Component).To(Equal("b"))
		Expect(*fields.RequestID).To(Equal(int64(7)))
	})
})

var _ = Describe("Truncate", func() {
	It("shortens long strings", func() {
		Expect(logger.Truncate("abcdef", 3)).To(Equal("abc..."))
		Expect(logger.Truncate("abc", 3)).To(Equal("abc"))
	})
})
