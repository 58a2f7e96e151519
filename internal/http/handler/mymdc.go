package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

const mymdcPrefix = "/api/mymdc/"

// MyMdCHandler exposes a read-only, proposal-scoped subset of MyMdC.
type MyMdCHandler struct {
	proxyService service.MyMdCProxyService
}

func NewMyMdCHandler(proxyService service.MyMdCProxyService) *MyMdCHandler {
	return &MyMdCHandler{proxyService: proxyService}
}

func (h *MyMdCHandler) ProposalByNumber(c *gin.Context) {
	no, ok := intParam(c, "proposal_no")
	if !ok {
		return
	}
	h.proxy(c, service.ProxyRequest{ProposalNo: &no, ProposalDocument: true})
}

func (h *MyMdCHandler) ProposalRuns(c *gin.Context) {
	no, ok := intParam(c, "proposal_no")
	if !ok {
		return
	}
	h.proxy(c, service.ProxyRequest{ProposalNo: &no, Query: pageQuery(c, no)})
}

func (h *MyMdCHandler) RunsByProposal(c *gin.Context) {
	no, err := strconv.Atoi(c.Query("proposal_no"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "proposal_no query parameter must be an integer"})
		return
	}
	h.proxy(c, service.ProxyRequest{ProposalNo: &no, Query: pageQuery(c, no)})
}

func (h *MyMdCHandler) ProposalRun(c *gin.Context) {
	no, ok := intParam(c, "proposal_no")
	if !ok {
		return
	}
	if _, ok := intParam(c, "run_number"); !ok {
		return
	}
	h.proxy(c, service.ProxyRequest{ProposalNo: &no})
}

// ByID serves /samples/:id, /experiments/:id and /runs/:id. Only the
// response can tell which proposal the document belongs to.
func (h *MyMdCHandler) ByID(c *gin.Context) {
	if _, ok := intParam(c, "id"); !ok {
		return
	}
	h.proxy(c, service.ProxyRequest{})
}

func (h *MyMdCHandler) proxy(c *gin.Context, req service.ProxyRequest) {
	ctx := c.Request.Context()
	session := middleware.GetSession(ctx)

	path := c.Request.URL.Path
	idx := strings.Index(path, mymdcPrefix)
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}
	req.Path = "api/" + path[idx+len(mymdcPrefix):]

	if dropped := droppedParams(c.Request.URL.Query(), req.Query); len(dropped) > 0 {
		slog.WarnContext(ctx, "dropped query parameters", "keys", dropped)
	}

	res, err := h.proxyService.Fetch(ctx, session.Client, req)
	if err != nil {
		writeError(c, err, "failed to proxy mymdc request")
		return
	}

	writeUpstream(c, res)
}

func writeUpstream(c *gin.Context, res *mymdc.Response) {
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(res.StatusCode, contentType, res.Body)
}

func pageQuery(c *gin.Context, proposalNo int) url.Values {
	q := url.Values{}
	q.Set("page_size", c.DefaultQuery("page_size", "100"))
	q.Set("page", c.DefaultQuery("page", "1"))
	q.Set("proposal_number", strconv.Itoa(proposalNo))
	return q
}

func droppedParams(got, kept url.Values) []string {
	var dropped []string
	for k := range got {
		if _, ok := kept[k]; ok || k == "proposal_no" {
			continue
		}
		dropped = append(dropped, k)
	}
	return dropped
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": name + " must be an integer"})
		return 0, false
	}
	return v, true
}
