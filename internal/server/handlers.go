package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"screenpilot/internal/models"
	"screenpilot/internal/rag"
)

type askRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	TopK     int    `json:"top_k"`
}

type askResponse struct {
	Answer  string                `json:"answer"`
	TraceID string                `json:"trace_id"`
	Sources []models.SearchResult `json:"sources"`
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ScreenPilot Backend is running", "status": "healthy"})
}

func (s *Server) health(c *gin.Context) {
	h := s.service.Health(c.Request.Context())
	body := gin.H{"status": h.Status}
	for name, status := range h.Components {
		body[name] = status
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) ask(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
			return
		}

		res, err := s.service.Ask(c.Request.Context(), rag.AskRequest{
			Question: req.Question,
			Context:  req.Context,
			Provider: provider,
			TopK:     req.TopK,
		})
		if err != nil {
			log.Error().Err(err).Str("provider", provider).Msg("Error processing question")
			writeError(c, "Failed to process question", err)
			return
		}

		sources := res.Sources
		if sources == nil {
			sources = []models.SearchResult{}
		}
		c.JSON(http.StatusOK, askResponse{Answer: res.Answer, TraceID: res.TraceID, Sources: sources})
	}
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": fmt.Sprintf("File exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing multipart field \"file\": " + err.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, "Failed to process file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, "Failed to process file", err)
		return
	}

	res, err := s.service.Upload(c.Request.Context(), fh.Filename, data)
	if err != nil {
		log.Error().Err(err).Str("filename", fh.Filename).Msg("Error processing upload")
		writeError(c, "Failed to process file", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id":     res.DocumentID,
		"filename":        res.Filename,
		"pages_processed": res.PagesProcessed,
		"chunks_created":  res.ChunksCreated,
		"message":         fmt.Sprintf("Processed %s: %d pages, %d chunks", res.Filename, res.PagesProcessed, res.ChunksCreated),
	})
}

func (s *Server) listDocuments(c *gin.Context) {
	docs := s.service.ListDocuments(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.service.DeleteDocument(c.Request.Context(), id); err != nil {
		writeError(c, "Failed to delete document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// writeError maps pipeline errors onto status codes with a {"detail"} body.
func writeError(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrEmptyQuestion),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"detail": fmt.Sprintf("%s: %s", prefix, err)})
}
