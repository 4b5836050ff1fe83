// Package server exposes the emission pipeline over HTTP.
package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/facturex/sri-pipeline/internal/lifecycle"
	"github.com/facturex/sri-pipeline/internal/model"
	"github.com/facturex/sri-pipeline/internal/processor"
	"github.com/facturex/sri-pipeline/internal/sign"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	pipeline *processor.Pipeline
}

// NewServer creates a new API server over an already wired pipeline.
func NewServer(config *Config, pipeline *processor.Pipeline) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		pipeline: pipeline,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invoices", s.handleEmit)
		v1.GET("/invoices/:accessKey", s.handleStatus)
		v1.POST("/invoices/:accessKey/poll", s.handlePoll)

		v1.POST("/verify", s.handleVerify)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleEmit runs an invoice through generation, signing, and submission.
// Authorization is asynchronous on the authority side; the caller follows up
// with the poll endpoint.
func (s *Server) handleEmit(c *gin.Context) {
	var inv model.Invoice
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice payload: " + err.Error()})
		return
	}

	result, err := s.pipeline.Emit(c.Request.Context(), &inv)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, EmitResponse{
		AccessKey: result.AccessKey,
		State:     result.Record.State,
		SignedXML: base64.StdEncoding.EncodeToString(result.SignedXML),
		Record:    result.Record,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	record, err := s.pipeline.Status(c.Request.Context(), c.Param("accessKey"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecordResponse{Record: record})
}

// handlePoll performs a single authorization check. Rejections and returns
// are business outcomes, reported with the updated record rather than an
// HTTP error.
func (s *Server) handlePoll(c *gin.Context) {
	record, err := s.pipeline.CheckAuthorization(c.Request.Context(), c.Param("accessKey"))

	var rejection *model.RejectionError
	var returned *model.ReturnError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, RecordResponse{Record: record})
	case errors.As(err, &rejection):
		c.JSON(http.StatusOK, RecordResponse{Record: record, Outcome: rejection.Error()})
	case errors.As(err, &returned):
		c.JSON(http.StatusOK, RecordResponse{Record: record, Outcome: returned.Error()})
	default:
		s.writeError(c, err)
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return
	}

	result := sign.Verify(body)

	response := VerifyResponse{
		Valid:                 result.Valid,
		SignatureFound:        result.SignatureFound,
		DocumentDigestValid:   result.DocumentDigestValid,
		PropertiesDigestValid: result.PropertiesDigestValid,
		SignatureValueValid:   result.SignatureValueValid,
		SignedAt:              result.SignedAt,
		Errors:                result.Errors,
	}
	if result.Signer != nil {
		response.Signer = &SignerInfoOutput{
			Name:         result.Signer.Name,
			Organization: result.Signer.Organization,
			SerialNumber: result.Signer.SerialNumber,
			Issuer:       result.Signer.Issuer,
			ValidFrom:    &result.Signer.ValidFrom,
			ValidTo:      &result.Signer.ValidTo,
		}
	}

	if result.Valid {
		c.JSON(http.StatusOK, response)
	} else {
		c.JSON(http.StatusUnprocessableEntity, response)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: input errors are
// 422, duplicate keys 409, missing records 404, authority trouble 502, and
// certificate material problems 500.
func (s *Server) writeError(c *gin.Context, err error) {
	var headerErr *model.HeaderError
	var schemaErr *model.SchemaError
	var totalsErr *model.TotalsError
	var certErr *model.CertificateError
	var transient *model.TransientError
	var rejection *model.RejectionError
	var returned *model.ReturnError

	switch {
	case errors.As(err, &headerErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: "header"})
	case errors.As(err, &schemaErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: "schema"})
	case errors.As(err, &totalsErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: "totals"})
	case errors.As(err, &rejection):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:    err.Error(),
			Kind:     "rejection",
			Messages: messageStrings(rejection.Messages),
		})
	case errors.As(err, &returned):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:    err.Error(),
			Kind:     "return",
			Messages: messageStrings(returned.Messages),
		})
	case errors.Is(err, lifecycle.ErrRecordExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "duplicate"})
	case errors.Is(err, lifecycle.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.As(err, &transient):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Kind: "transient"})
	case errors.As(err, &certErr):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: "certificate"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func messageStrings(msgs []model.AuthorityMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.String())
	}
	return out
}
