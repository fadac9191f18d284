package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatimport/internal/archive"
	"chatimport/internal/importer"
	"chatimport/internal/platform"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type importRequest struct {
	ShareURL string `json:"shareUrl"`
}

type conversationSummary struct {
	ID           string      `json:"id,omitempty"`
	Title        string      `json:"title"`
	MessageCount int         `json:"messageCount"`
	Platform     platform.ID `json:"platform"`
	ImportedAt   time.Time   `json:"importedAt"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) importChat(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ShareURL) == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Share URL is required"})
		return
	}

	result, err := s.importer.Import(c.Request.Context(), req.ShareURL)
	if err != nil {
		c.JSON(importer.StatusCode(err), importErrorBody(err))
		return
	}

	summary := conversationSummary{
		Title:        result.Title,
		MessageCount: len(result.Turns),
		Platform:     result.Platform,
		ImportedAt:   result.ImportedAt,
	}
	if s.archive != nil {
		id, err := s.archive.Save(c.Request.Context(), result)
		if err != nil {
			s.log.Error("archive save failed", zap.String("url", result.SourceURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to import conversation", Message: err.Error()})
			return
		}
		summary.ID = id
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"conversation": summary,
		"result":       result,
	})
}

func importErrorBody(err error) errorResponse {
	kind, ok := importer.KindOf(err)
	if !ok {
		return errorResponse{Error: "Failed to import conversation", Message: err.Error()}
	}
	switch kind {
	case importer.KindInvalidInput:
		return errorResponse{Error: "Share URL is required"}
	case importer.KindUnsupportedPlatform:
		return errorResponse{Error: "Unsupported platform", Message: "Only Claude.ai and ChatGPT share links are supported"}
	case importer.KindEmptyConversation:
		return errorResponse{Error: "No messages found", Message: "The shared conversation appears to be empty or could not be parsed"}
	default:
		return errorResponse{Error: "Failed to import conversation", Message: err.Error()}
	}
}

func (s *Server) status(c *gin.Context) {
	infos := platform.Supported()
	hosts := make([]string, 0, len(infos))
	for _, info := range infos {
		hosts = append(hosts, info.Hosts...)
	}
	c.JSON(http.StatusOK, gin.H{
		"supported": hosts,
		"platforms": infos,
		"status":    "operational",
	})
}

func (s *Server) listConversations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		return
	}
	list, err := s.archive.List(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("archive list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to list conversations"})
		return
	}
	if list == nil {
		list = []archive.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) getConversation(c *gin.Context) {
	r, err := s.archive.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Conversation not found"})
		return
	}
	if err != nil {
		s.log.Error("archive get failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteConversation(c *gin.Context) {
	err := s.archive.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Conversation not found"})
		return
	}
	if err != nil {
		s.log.Error("archive delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to delete conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// health reports liveness. The browser starts on the first import, so a
// disconnected browser is not unhealthy.
func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.browser != nil {
		body["browser"] = gin.H{
			"connected": s.browser.IsConnected(),
			"openPages": s.browser.OpenPages(),
		}
	}
	c.JSON(http.StatusOK, body)
}
