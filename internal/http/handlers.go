package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleAuthenticate exchanges a username/OTP pair for a long-lived token.
func (s *Server) handleAuthenticate(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	token, expiry, err := s.authSvc.Authenticate(req.Username, req.OTPToken, req.LongTermDays)
	if err != nil {
		return s.jsonError(c, err)
	}

	s.logger.Info("user authenticated",
		zap.String("username", req.Username),
		zap.Int("long_term_days", req.LongTermDays),
	)
	return c.JSON(http.StatusOK, AuthResponse{LongTermToken: token, Expiry: expiry})
}

// handleGetEmbeddings extracts embeddings for the given image URLs without
// storing them.
func (s *Server) handleGetEmbeddings(c echo.Context) error {
	var req ImageURLsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	result, err := s.svc.GetEmbeddingsByImageURL(c.Request().Context(), req.Algorithm, req.ImageURLs)
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, EmbeddingsResponse{Status: "success", Result: result})
}

// handlePostEmbedding upserts a batch of caller-supplied embeddings.
func (s *Server) handlePostEmbedding(c echo.Context) error {
	var req PostEmbeddingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	records := make([]vectorstore.Record, 0, len(req.Embeddings))
	for _, e := range req.Embeddings {
		records = append(records, vectorstore.Record{ID: e.UUID, Vector: e.Vector, Metadata: e.Metadata})
	}

	result, err := s.svc.PostEmbeddings(c.Request().Context(), req.Algorithm, records)
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, PostEmbeddingResponse{
		Status:  "success",
		Message: "Embeddings posted successfully",
		Result:  result,
	})
}

// handleGenerateAndPost extracts embeddings for image URLs and stores them
// under the paired uuids.
func (s *Server) handleGenerateAndPost(c echo.Context) error {
	var req GenerateAndPostRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	result, err := s.svc.GenerateAndPost(c.Request().Context(), req.Algorithm, req.ImageURLs, req.UUIDs, req.Metadata)
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, GenerateAndPostResponse{
		Status:  "success",
		Message: "Embeddings generated and posted successfully",
		Result:  result,
	})
}

// handleGetUUIDs enumerates record ids or checks an explicit list.
func (s *Server) handleGetUUIDs(c echo.Context) error {
	var req GetUUIDsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	collection, ids, err := s.svc.GetUUIDs(c.Request().Context(), req.Algorithm, req.UUIDs)
	if err != nil {
		return s.jsonError(c, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, GetUUIDsResponse{Status: "success", Result: ids, Algo: collection})
}

// handleSearch returns the nearest neighbors of the query vector.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid request body"})
	}

	results, err := s.svc.SearchByEmbedding(c.Request().Context(), req.Algorithm, req.QueryVector, req.TopK)
	if err != nil {
		return s.jsonError(c, err)
	}
	if results == nil {
		results = []vectorstore.ScoredRecord{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Status: "success", Results: results})
}
