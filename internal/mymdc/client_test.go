package mymdc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
)

var _ = Describe("Client", func() {
	var (
		ctx         context.Context
		server      *httptest.Server
		mux         *http.ServeMux
		tokenCalls  atomic.Int32
		client      mymdc.Client
		lastHeaders http.Header
	)

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	BeforeEach(func() {
		ctx = context.Background()
		tokenCalls.Store(0)
		mux = http.NewServeMux()
		mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			Expect(r.ParseForm()).To(Succeed())
			Expect(r.PostForm.Get("grant_type")).To(Equal("client_credentials"))
			Expect(r.PostForm.Get("client_id")).To(Equal("id"))
			Expect(r.PostForm.Get("client_secret")).To(Equal("secret"))
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "access",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		})
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/oauth/token" {
				lastHeaders = r.Header.Clone()
			}
			mux.ServeHTTP(w, r)
		}))
		DeferCleanup(server.Close)

		var err error
		client, err = mymdc.New(mymdc.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			Email:        "proxy@example.com",
			TokenURL:     server.URL + "/oauth/token",
			BaseURL:      server.URL,
			Timeout:      time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("GetZulipStreamName", func() {
		It("reads the logbook identifier and sends the service headers", func() {
			mux.HandleFunc("/api/proposals/by_number/1234", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"id":           55,
					"logbook_info": map[string]any{"logbook_identifier": "beamtime-1234"},
				})
			})

			stream, err := client.GetZulipStreamName(ctx, 1234)
			Expect(err).NotTo(HaveOccurred())
			Expect(stream).To(Equal("beamtime-1234"))

			Expect(lastHeaders.Get("Authorization")).To(Equal("Bearer access"))
			Expect(lastHeaders.Get("Accept")).To(Equal("application/json; version=1"))
			Expect(lastHeaders.Get("X-User-Email")).To(Equal("proxy@example.com"))
		})

		It("reports a proposal without a logbook", func() {
			mux.HandleFunc("/api/proposals/by_number/1", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"id": 5, "logbook_info": nil})
			})

			_, err := client.GetZulipStreamName(ctx, 1)
			Expect(err).To(MatchError(mymdc.ErrNoStreamForProposal))
		})

		It("reports an unknown proposal", func() {
			_, err := client.GetZulipStreamName(ctx, 404)
			Expect(err).To(MatchError(mymdc.ErrProposalNotFound))
		})
	})

	Describe("GetProposalID", func() {
		It("returns the id", func() {
			mux.HandleFunc("/api/proposals/by_number/1234", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"id": 55})
			})

			id, err := client.GetProposalID(ctx, 1234)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(55))
		})

		It("keeps upstream failures as ResponseError", func() {
			mux.HandleFunc("/api/proposals/by_number/1234", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "boom"})
			})

			_, err := client.GetProposalID(ctx, 1234)
			var respErr *mymdc.ResponseError
			Expect(errors.As(err, &respErr)).To(BeTrue())
			Expect(respErr.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GetZulipBotCredentials", func() {
		It("returns the bot credentials", func() {
			mux.HandleFunc("/api/proposals/1234/logbook_bot", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"email": "bot@zulip", "key": "k"})
			})

			creds, err := client.GetZulipBotCredentials(ctx, 1234)
			Expect(err).NotTo(HaveOccurred())
			Expect(creds).To(Equal(mymdc.BotCredentials{Email: "bot@zulip", Key: "k"}))
		})

		DescribeTable("treats refusals as no bot",
			func(status int) {
				mux.HandleFunc("/api/proposals/1234/logbook_bot", func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, status, map[string]any{"detail": "nope"})
				})

				_, err := client.GetZulipBotCredentials(ctx, 1234)
				Expect(err).To(MatchError(mymdc.ErrNoBotForProposal))
			},
			Entry("forbidden", http.StatusForbidden),
			Entry("not found", http.StatusNotFound),
		)

		It("treats empty credentials as no bot", func() {
			mux.HandleFunc("/api/proposals/1234/logbook_bot", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"email": "", "key": ""})
			})

			_, err := client.GetZulipBotCredentials(ctx, 1234)
			Expect(err).To(MatchError(mymdc.ErrNoBotForProposal))
		})
	})

	Describe("Get", func() {
		It("returns non-2xx replies without failing and reuses the token", func() {
			mux.HandleFunc("/api/runs/7", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("page")).To(Equal("2"))
				writeJSON(w, http.StatusTeapot, map[string]any{"detail": "teapot"})
			})

			for i := 0; i < 3; i++ {
				res, err := client.Get(ctx, "/api/runs/7", map[string][]string{"page": {"2"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(res.StatusCode).To(Equal(http.StatusTeapot))
				Expect(string(res.Body)).To(ContainSubstring("teapot"))
			}
			Expect(tokenCalls.Load()).To(Equal(int32(1)))
		})
	})
})
