package router

import (
	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/handler"
)

func APIRouter(rg *gin.RouterGroup, h *handler.APIHandler) {
	rg.POST("/send_message", h.SendMessage)
	rg.PATCH("/update_message", h.UpdateMessage)
	rg.POST("/upload_file", h.UploadFile)
	rg.GET("/get_stream_topics", h.GetStreamTopics)
	rg.GET("/me", h.Me)
}

func MyMdCRouter(rg *gin.RouterGroup, h *handler.MyMdCHandler) {
	rg.GET("/proposals/by_number/:proposal_no", h.ProposalByNumber)
	rg.GET("/proposals/by_number/:proposal_no/runs", h.ProposalRuns)
	rg.GET("/proposals/by_number/:proposal_no/runs/:run_number", h.ProposalRun)
	rg.GET("/runs/runs_by_proposal", h.RunsByProposal)
	rg.GET("/runs/:id", h.ByID)
	rg.GET("/samples/:id", h.ByID)
	rg.GET("/experiments/:id", h.ByID)
}
