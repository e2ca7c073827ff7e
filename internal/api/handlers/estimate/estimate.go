package estimate

import (
	"errors"
	"net/http"

	"market-estimator/internal/core/feedback"
	"market-estimator/internal/core/fusion"
	"market-estimator/internal/core/recommend"
	"market-estimator/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 估計相關請求處理器
type Handler struct {
	engine      *fusion.Engine
	feedback    *feedback.Store
	recommender *recommend.Generator
}

// NewHandler 創建估計處理器
func NewHandler(engine *fusion.Engine, fb *feedback.Store, recommender *recommend.Generator) *Handler {
	return &Handler{
		engine:      engine,
		feedback:    fb,
		recommender: recommender,
	}
}

// FuseRequest 融合估計請求
type FuseRequest struct {
	Subject string         `json:"subject" binding:"required"`
	Context common.Context `json:"context"`
}

// HandleFuse 處理融合估計請求
func (h *Handler) HandleFuse(c *gin.Context) {
	var req FuseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	result, err := h.engine.Fuse(c.Request.Context(), req.Subject, req.Context)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CorrectionRequest 使用者修正請求
type CorrectionRequest struct {
	Subject        string       `json:"subject" binding:"required"`
	Original       common.Value `json:"original" binding:"required"`
	Corrected      common.Value `json:"corrected" binding:"required"`
	UserConfidence float64      `json:"user_confidence"`
}

// HandleCorrection 處理使用者修正請求
func (h *Handler) HandleCorrection(c *gin.Context) {
	var req CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	err := h.feedback.RecordCorrection(c.Request.Context(), req.Subject, req.Original, req.Corrected, req.UserConfidence)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// RatingRequest 準確度評分請求
type RatingRequest struct {
	Subject string `json:"subject" binding:"required"`
	Rating  int    `json:"rating" binding:"required"`
}

// HandleRating 處理準確度評分請求
func (h *Handler) HandleRating(c *gin.Context) {
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	if err := h.feedback.RecordRating(c.Request.Context(), req.Subject, req.Rating); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// OutcomeRequest 來源估計結果回報請求
type OutcomeRequest struct {
	Source  common.Source `json:"source" binding:"required"`
	Correct bool          `json:"correct"`
}

// HandleOutcome 處理來源估計結果回報
func (h *Handler) HandleOutcome(c *gin.Context) {
	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	if err := h.feedback.RecordOutcome(c.Request.Context(), req.Source, req.Correct); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// RecommendResponse 建議請求回應：融合結果與對應建議
type RecommendResponse struct {
	Result          *common.FusedResult     `json:"result"`
	Recommendations []common.Recommendation `json:"recommendations"`
}

// HandleRecommend 處理建議請求，先融合再產生建議
func (h *Handler) HandleRecommend(c *gin.Context) {
	var req FuseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	result, err := h.engine.Fuse(c.Request.Context(), req.Subject, req.Context)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		Result:          result,
		Recommendations: h.recommender.Recommend(result, req.Context),
	})
}

// HandleStats 處理統計查詢請求
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Statistics())
}

// WeightRequest 來源權重調整請求
type WeightRequest struct {
	Source common.Source `json:"source" binding:"required"`
	Weight float64       `json:"weight"`
}

// HandleUpdateWeight 管理端點：調整來源先驗權重
func (h *Handler) HandleUpdateWeight(c *gin.Context) {
	var req WeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Weight must be between 0 and 1",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	h.engine.UpdateWeight(req.Source, req.Weight)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// writeError 依錯誤類型寫入對應狀態碼
func (h *Handler) writeError(c *gin.Context, err error) {
	var custom *common.CustomError
	if errors.As(err, &custom) {
		c.JSON(custom.Status, gin.H{
			"error": custom.Message,
			"code":  custom.Code,
		})
		return
	}

	common.LogError("請求處理失敗",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
		"code":  common.ErrCodeInternalError,
	})
}
