package model_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
)

var _ = Describe("Secret", func() {
	It("redacts in fmt and slog but marshals plaintext", func() {
		s := model.NewSecret("hunter2")

		Expect(s.String()).To(Equal("**********"))
		Expect(fmt.Sprintf("%v %+v %#v", s, s, s)).NotTo(ContainSubstring("hunter2"))

		var buf bytes.Buffer
		slog.New(slog.NewTextHandler(&buf, nil)).Info("msg", "token", s)
		Expect(buf.String()).NotTo(ContainSubstring("hunter2"))

		data, err := json.Marshal(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"hunter2"`))
		Expect(s.Reveal()).To(Equal("hunter2"))
	})

	It("prints nothing for an empty secret", func() {
		Expect(model.NewSecret("").String()).To(BeEmpty())
		Expect(model.NewSecret("").IsZero()).To(BeTrue())
	})
})

var _ = Describe("BotConfig", func() {
	It("is keyed by site host and id", func() {
		bot := &model.BotConfig{Site: "https://mylog.connect.xfel.eu/", ID: 77}
		Expect(bot.StoreKey()).To(Equal("mylog.connect.xfel.eu/77"))
	})

	It("keys bare hosts the same way as URLs", func() {
		Expect(model.BotKey("mylog.connect.xfel.eu", 77)).To(Equal(model.BotKey("https://mylog.connect.xfel.eu/", 77)))
	})

	It("requires id, site, email and key", func() {
		Expect((&model.BotConfig{}).Validate()).To(HaveOccurred())
		Expect((&model.BotConfig{ID: 1, Site: "s"}).Validate()).To(HaveOccurred())
		Expect((&model.BotConfig{ID: 1, Site: "s", Email: "e", Key: model.NewSecret("k")}).Validate()).To(Succeed())
	})
})

var _ = Describe("ScopedClient", func() {
	var client *model.ScopedClient

	BeforeEach(func() {
		client = &model.ScopedClient{
			Kind:       model.ClientKindScoped,
			ProposalNo: 1234,
			Token:      model.NewSecret("tok"),
			CreatedBy:  "alice@example.com",
			CreatedAt:  time.Now(),
		}
	})

	Describe("StoreKey", func() {
		It("is proposal and creator without a bot site", func() {
			Expect(client.StoreKey()).To(Equal("1234/alice@example.com"))
		})

		It("includes the bot site host when set", func() {
			site := "https://mylog.connect.xfel.eu/"
			client.BotSite = &site
			Expect(client.StoreKey()).To(Equal("1234/alice@example.com/mylog.connect.xfel.eu"))
		})

		It("uses the admin namespace for admin clients", func() {
			client.Kind = model.ClientKindAdmin
			client.ProposalNo = 0
			Expect(client.StoreKey()).To(Equal("admin/alice@example.com"))
		})
	})

	Describe("BotKey", func() {
		It("fails without a bot", func() {
			_, err := client.BotKey()
			Expect(err).To(MatchError(model.ErrNoBotForClient))
			Expect(client.HasBot()).To(BeFalse())
		})

		It("matches the bot's StoreKey", func() {
			site, id := "https://mylog.connect.xfel.eu/", int64(77)
			client.BotSite, client.BotID = &site, &id

			key, err := client.BotKey()
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal((&model.BotConfig{Site: site, ID: id}).StoreKey()))
		})
	})

	Describe("Validate", func() {
		It("accepts a partial client", func() {
			Expect(client.Validate()).To(Succeed())
		})

		It("rejects a scoped client without a proposal", func() {
			client.ProposalNo = 0
			Expect(client.Validate()).To(HaveOccurred())
		})

		It("rejects half a bot reference", func() {
			id := int64(77)
			client.BotID = &id
			Expect(client.Validate()).To(HaveOccurred())
		})

		It("rejects an unknown kind", func() {
			client.Kind = "superuser"
			Expect(client.Validate()).To(HaveOccurred())
		})
	})

	It("defaults kind to scoped when decoding old records", func() {
		var c model.ScopedClient
		Expect(json.Unmarshal([]byte(`{"proposal_no": 1, "token": "t", "created_by": "x"}`), &c)).To(Succeed())
		Expect(c.Kind).To(Equal(model.ClientKindScoped))
		Expect(c.Token.Reveal()).To(Equal("t"))
	})

	It("exposes the plaintext token as a lookup attribute", func() {
		v, ok := client.Attr("token")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("tok"))

		_, ok = client.Attr("nope")
		Expect(ok).To(BeFalse())
	})
})
