package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/handler"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

const adminKey = "static-admin-key"

var _ = Describe("ClientHandler", func() {
	var (
		router  *gin.Engine
		clients *mockClientService
	)

	BeforeEach(func() {
		clients = &mockClientService{}
		clients.authenticateFn = func(_ context.Context, token string) (*model.ScopedClient, error) {
			switch token {
			case "":
				return nil, service.ErrNotAuthenticated
			case "admin-token":
				return &model.ScopedClient{Kind: model.ClientKindAdmin, CreatedBy: "root@example.com"}, nil
			case testToken:
				return testClient(), nil
			}
			return nil, service.ErrUnauthorised
		}

		router = gin.New()
		h := handler.NewClientHandler(clients)
		rg := router.Group("/client", middleware.RequireAdmin(clients, adminKey))
		rg.POST("/create", h.Create)
		rg.GET("/create/schema", h.Schema)
		rg.GET("/list", h.List)
		rg.DELETE("/", h.Delete)
		rg.GET("/messages", h.Messages)
		rg.GET("/bot", h.Bot)
	})

	serve := func(method, path, key string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set(middleware.APIKeyHeader, key)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("admin authentication", func() {
		It("returns 401 without a key", func() {
			Expect(serve(http.MethodGet, "/client/list", "", nil, nil).Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns 401 for an unknown key", func() {
			Expect(serve(http.MethodGet, "/client/list", "wrong", nil, nil).Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns 403 for a scoped client", func() {
			Expect(serve(http.MethodGet, "/client/list", testToken, nil, nil).Code).To(Equal(http.StatusForbidden))
		})

		It("accepts an admin client token", func() {
			Expect(serve(http.MethodGet, "/client/list", "admin-token", nil, nil).Code).To(Equal(http.StatusOK))
		})
	})

	Describe("Create", func() {
		It("returns 201 with the token once", func() {
			var gotParams service.CreateClientParams
			var gotBy string
			clients.createFn = func(_ context.Context, params service.CreateClientParams, createdBy string) (*model.ScopedClient, error) {
				gotParams, gotBy = params, createdBy
				c := testClient()
				c.CreatedBy = createdBy
				return c, nil
			}

			body, _ := json.Marshal(map[string]any{"proposal_no": 1234, "stream": "beamtime-1234"})
			w := serve(http.MethodPost, "/client/create", adminKey, body, map[string]string{
				handler.UserEmailHeader: "alice@example.com",
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(gotParams.ProposalNo).To(Equal(1234))
			Expect(*gotParams.Stream).To(Equal("beamtime-1234"))
			Expect(gotParams.BotID).To(BeNil())
			Expect(gotBy).To(Equal("alice@example.com"))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["token"]).To(Equal(testToken))
			Expect(resp["key"]).To(Equal("1234/alice@example.com/mylog.connect.xfel.eu"))
		})

		It("falls back to the admin actor as creator", func() {
			var gotBy string
			clients.createFn = func(_ context.Context, _ service.CreateClientParams, createdBy string) (*model.ScopedClient, error) {
				gotBy = createdBy
				return testClient(), nil
			}

			body, _ := json.Marshal(map[string]any{"proposal_no": 1234})
			Expect(serve(http.MethodPost, "/client/create", "admin-token", body, nil).Code).To(Equal(http.StatusCreated))
			Expect(gotBy).To(Equal("root@example.com"))
		})

		DescribeTable("rejects invalid bodies",
			func(body string) {
				w := serve(http.MethodPost, "/client/create", adminKey, []byte(body), nil)
				Expect(w.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("malformed", `{`),
			Entry("missing proposal", `{"stream": "s"}`),
			Entry("zero proposal", `{"proposal_no": 0}`),
			Entry("bad site", `{"proposal_no": 1, "bot_site": "not a url"}`),
		)

		DescribeTable("maps service errors",
			func(err error, status int) {
				clients.createFn = func(context.Context, service.CreateClientParams, string) (*model.ScopedClient, error) {
					return nil, err
				}
				body, _ := json.Marshal(map[string]any{"proposal_no": 1234})
				Expect(serve(http.MethodPost, "/client/create", adminKey, body, nil).Code).To(Equal(status))
			},
			Entry("existing client", service.ErrClientExists, http.StatusConflict),
			Entry("unknown proposal", service.ErrNoSuchProposal, http.StatusNotFound),
			Entry("unexpected", context.Canceled, http.StatusInternalServerError),
		)
	})

	Describe("Schema", func() {
		It("describes the create form", func() {
			w := serve(http.MethodGet, "/client/create/schema", adminKey, nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var schema map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &schema)).To(Succeed())
			Expect(schema["properties"]).To(HaveKey("proposal_no"))
			Expect(schema["properties"]).To(HaveKey("bot_site"))
			Expect(schema["required"]).To(ContainElement("proposal_no"))
		})
	})

	Describe("List", func() {
		It("never exposes tokens", func() {
			clients.listFn = func(context.Context) ([]*model.ScopedClient, error) {
				return []*model.ScopedClient{testClient()}, nil
			}

			w := serve(http.MethodGet, "/client/list", adminKey, nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).NotTo(ContainSubstring(testToken))

			var resp []map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveLen(1))
		})
	})

	Describe("Delete", func() {
		It("deletes the target and records the actor", func() {
			var gotToken, gotActor string
			clients.deleteFn = func(_ context.Context, token, actor string) (*model.ScopedClient, error) {
				gotToken, gotActor = token, actor
				return testClient(), nil
			}

			w := serve(http.MethodDelete, "/client/", adminKey, nil, map[string]string{handler.TargetKeyHeader: testToken})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotToken).To(Equal(testToken))
			Expect(gotActor).To(Equal(middleware.AdminActor))
			Expect(w.Body.String()).To(MatchJSON(`{"detail":"Deleted 1234/alice@example.com/mylog.connect.xfel.eu"}`))
		})

		It("requires a target", func() {
			Expect(serve(http.MethodDelete, "/client/", adminKey, nil, nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown target", func() {
			clients.deleteFn = func(context.Context, string, string) (*model.ScopedClient, error) {
				return nil, store.ErrNotFound
			}
			w := serve(http.MethodDelete, "/client/", adminKey, nil, map[string]string{handler.TargetKeyHeader: "x"})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Messages", func() {
		It("lists the target's messages", func() {
			zc := &mockZulip{
				getMessagesFn: func(context.Context, zulip.GetMessagesRequest) (*zulip.MessagesResponse, error) {
					return &zulip.MessagesResponse{Messages: []zulip.Message{
						{ID: 1, Subject: "run 1", Content: "a", Timestamp: 100},
						{ID: 2, Subject: "run 2", Content: "b", Timestamp: 200},
					}}, nil
				},
			}
			sessionFor(clients, testClient(), zc)

			w := serve(http.MethodGet, "/client/messages", adminKey, nil, map[string]string{handler.TargetKeyHeader: testToken})
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp []map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveLen(2))
			Expect(resp[0]["id"]).To(BeEquivalentTo(2))
			Expect(resp[0]["topic"]).To(Equal("run 2"))
		})

		It("returns 404 when the target has no bot", func() {
			clients.getFn = func(context.Context, string) (*service.Session, error) {
				return nil, service.ErrNoBotForClient
			}
			w := serve(http.MethodGet, "/client/messages", adminKey, nil, map[string]string{handler.TargetKeyHeader: "x"})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Bot", func() {
		It("returns the bot without its key", func() {
			clients.getBotFn = func(_ context.Context, key string) (*model.BotConfig, error) {
				Expect(key).To(Equal("mylog.connect.xfel.eu/77"))
				return testBot(), nil
			}

			w := serve(http.MethodGet, "/client/bot?key=mylog.connect.xfel.eu/77", adminKey, nil, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"email":"bot@zulip"`))
			Expect(w.Body.String()).NotTo(ContainSubstring(`"k"`))
		})

		It("requires a key", func() {
			Expect(serve(http.MethodGet, "/client/bot", adminKey, nil, nil).Code).To(Equal(http.StatusBadRequest))
		})
	})
})
