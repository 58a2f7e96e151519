package zulip_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		mux    *http.ServeMux
		server *httptest.Server
		client zulip.Client
	)

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "bot@zulip" || pass != "key" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"result": "error", "msg": "Invalid API key", "code": "INVALID_API_KEY",
				})
				return
			}
			mux.ServeHTTP(w, r)
		}))
		DeferCleanup(server.Close)

		factory := zulip.NewFactory(server.Client())
		client = factory(zulip.Credentials{Email: "bot@zulip", Key: "key", Site: server.URL + "/"})
	})

	It("fetches the profile", func() {
		mux.HandleFunc("/api/v1/users/me", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"result": "success", "user_id": 77, "email": "bot@zulip",
				"date_joined": "2024-03-01T10:00:00+00:00",
			})
		})

		profile, err := client.GetProfile(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.UserID).To(Equal(int64(77)))
		Expect(profile.JoinedAt()).NotTo(BeNil())
	})

	It("posts stream messages as a form", func() {
		mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.ParseForm()).To(Succeed())
			Expect(r.PostForm.Get("type")).To(Equal("stream"))
			Expect(r.PostForm.Get("to")).To(Equal("beamtime-1234"))
			Expect(r.PostForm.Get("topic")).To(Equal("run 1"))
			Expect(r.PostForm.Get("content")).To(Equal("hello"))
			writeJSON(w, http.StatusOK, map[string]any{"result": "success", "id": 42})
		})

		res, err := client.SendMessage(ctx, zulip.SendMessageRequest{To: "beamtime-1234", Topic: "run 1", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ID).To(Equal(int64(42)))
	})

	It("patches only the fields given", func() {
		mux.HandleFunc("/api/v1/messages/9", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodPatch))
			Expect(r.ParseForm()).To(Succeed())
			Expect(r.PostForm.Get("topic")).To(Equal("renamed"))
			Expect(r.PostForm.Get("propagate_mode")).To(Equal("change_all"))
			Expect(r.PostForm).NotTo(HaveKey("content"))
			writeJSON(w, http.StatusOK, map[string]any{"result": "success", "msg": ""})
		})

		topic := "renamed"
		mode := zulip.PropagateChangeAll
		res, err := client.UpdateMessage(ctx, zulip.UpdateMessageRequest{MessageID: 9, Topic: &topic, PropagateMode: &mode})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Result).To(Equal("success"))
	})

	It("uploads files as multipart", func() {
		mux.HandleFunc("/api/v1/user_uploads", func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			Expect(err).NotTo(HaveOccurred())
			data, _ := io.ReadAll(file)
			Expect(header.Filename).To(Equal("plot.png"))
			Expect(string(data)).To(Equal("png-bytes"))
			writeJSON(w, http.StatusOK, map[string]any{"result": "success", "url": "/user_uploads/1/plot.png"})
		})

		res, err := client.UploadFile(ctx, "plot.png", strings.NewReader("png-bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.URI).To(Equal("/user_uploads/1/plot.png"))
	})

	It("resolves stream topics", func() {
		mux.HandleFunc("/api/v1/get_stream_id", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Query().Get("stream")).To(Equal("beamtime 1234"))
			writeJSON(w, http.StatusOK, map[string]any{"result": "success", "stream_id": 15})
		})
		mux.HandleFunc("/api/v1/users/me/15/topics", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"result": "success",
				"topics": []map[string]any{{"name": "run 1", "max_id": 3}},
			})
		})

		id, err := client.GetStreamID(ctx, "beamtime 1234")
		Expect(err).NotTo(HaveOccurred())
		topics, err := client.GetStreamTopics(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(topics.Topics).To(Equal([]zulip.Topic{{Name: "run 1", MaxID: 3}}))
	})

	It("encodes the narrow as JSON", func() {
		mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			Expect(q.Get("anchor")).To(Equal("newest"))
			Expect(q.Get("num_before")).To(Equal("100"))
			Expect(q.Get("narrow")).To(MatchJSON(`[{"operator":"sender","operand":77},{"operator":"stream","operand":"s"}]`))
			writeJSON(w, http.StatusOK, map[string]any{
				"result":   "success",
				"messages": []map[string]any{{"id": 1, "subject": "t", "content": "c"}},
			})
		})

		res, err := client.GetMessages(ctx, zulip.GetMessagesRequest{
			Anchor:    "newest",
			NumBefore: 100,
			Narrow: []zulip.NarrowTerm{
				{Operator: "sender", Operand: int64(77)},
				{Operator: "stream", Operand: "s"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Messages).To(HaveLen(1))
		Expect(res.Messages[0].Subject).To(Equal("t"))
	})

	It("turns error replies into APIError", func() {
		client = zulip.New(server.Client(), zulip.Credentials{Email: "bot@zulip", Key: "wrong", Site: server.URL})

		_, err := client.GetProfile(ctx)
		var apiErr *zulip.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(apiErr.Code).To(Equal("INVALID_API_KEY"))
	})

	It("treats a non-success result as an error even with status 200", func() {
		mux.HandleFunc("/api/v1/users/me", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"result": "error", "msg": "nope"})
		})

		_, err := client.GetProfile(ctx)
		var apiErr *zulip.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Msg).To(Equal("nope"))
	})
})
