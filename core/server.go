package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chatproxy/search"
	localtools "chatproxy/tools"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type Server struct {
	agents  AgentStore
	chat    *ChatService
	tracker *TurnTracker
	metrics *Metrics
	sink    MetricsSink
	config  *Config
	logger  *logrus.Logger
	closers []io.Closer
	search  bool
}

// NewServer creates a new server instance with all dependencies initialized
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	metrics := NewMetrics()

	sink, err := NewCSVMetricsSink(config.MetricsCSV)
	if err != nil {
		logger.WithError(err).WithField("path", config.MetricsCSV).Error("Failed to initialize metrics log")
		return nil, fmt.Errorf("failed to initialize metrics log: %w", err)
	}
	logger.WithField("path", config.MetricsCSV).Info("Metrics log initialized")

	agents, err := NewFileAgentStore(config.AgentsDir, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to load agents")
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"agentsDir":    config.AgentsDir,
		"agentsLoaded": len(agents.List()),
	}).Info("Agent store initialized")

	var closers []io.Closer
	var searcher localtools.Searcher
	searchClient, closer, err := newSearchClient(config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize vector search")
		return nil, fmt.Errorf("failed to initialize vector search: %w", err)
	}
	if searchClient != nil {
		searcher = searchClient
		logger.WithField("provider", config.EmbeddingProvider).Info("Vector search initialized")
	} else {
		logger.Info("Vector search not configured, semantic_search is disabled")
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	backend := NewBackendClient(config.BackendTimeout, config.CircuitBreaker, metrics, logger)
	orchestrator := NewOrchestrator(backend, searcher, config, metrics, logger)
	tracker := NewTurnTracker()
	chat := NewChatService(orchestrator, backend, EnvCredentials{APIKey: config.OpenAIAPIKey}, tracker, metrics, config, logger)

	logger.Info("Server initialization completed successfully")
	return &Server{
		agents:  agents,
		chat:    chat,
		tracker: tracker,
		metrics: metrics,
		sink:    sink,
		config:  config,
		logger:  logger,
		closers: closers,
		search:  searcher != nil,
	}, nil
}

// newSearchClient wires the embedding provider and the vector index. It
// returns a nil client when vector search is not configured.
func newSearchClient(config *Config, logger *logrus.Logger) (*search.Client, io.Closer, error) {
	if !config.SearchEnabled() {
		return nil, nil, nil
	}

	embedder, err := search.NewEmbedder(search.EmbedderConfig{
		Provider: config.EmbeddingProvider,
		Model:    config.EmbeddingModel,
		APIURL:   config.EmbeddingAPIURL,
		APIKey:   config.EmbeddingAPIKey,
	})
	if err != nil {
		return nil, nil, err
	}

	if config.VectorDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		index, err := search.OpenPGVectorIndex(ctx, config.VectorDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using pgvector index")
		return search.NewClient(embedder, index, logger), index, nil
	}

	index, err := search.LoadMemoryIndex(config.VectorSeedFile)
	if err != nil {
		return nil, nil, err
	}
	logger.WithField("seedFile", config.VectorSeedFile).Info("Using in-memory vector index")
	return search.NewClient(embedder, index, logger), nil, nil
}

// Close waits for running turns, bounded by ctx, and releases the vector index.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.tracker.Wait(ctx); err != nil {
		s.logger.WithField("activeTurns", s.tracker.Active()).Warn("Shutting down with turns still running")
		errs = append(errs, err)
	}
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) newRequestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Response().Header().Set(echo.HeaderXRequestID, requestID)

	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

// lookupAgent resolves the :agentId parameter, answering 404 for unknown and
// 403 for disabled agents.
func (s *Server) lookupAgent(c echo.Context, requestLogger *logrus.Entry) (*Agent, error) {
	agentID := c.Param("agentId")
	agent, ok := s.agents.Get(agentID)
	if !ok {
		requestLogger.WithField("agentId", agentID).Warn("Agent not found")
		return nil, c.JSON(http.StatusNotFound, ErrorResponse{Detail: fmt.Sprintf("agent '%s' not found", agentID)})
	}
	if !agent.IsEnabled() {
		requestLogger.WithField("agentId", agentID).Warn("Agent is disabled")
		return nil, c.JSON(http.StatusForbidden, ErrorResponse{Detail: fmt.Sprintf("agent '%s' is disabled", agentID)})
	}
	return agent, nil
}

func (s *Server) agentSummaries() []AgentSummary {
	agents := s.agents.List()
	summaries := make([]AgentSummary, 0, len(agents))
	for _, agent := range agents {
		summaries = append(summaries, AgentSummary{
			ID:      agent.ID,
			Name:    agent.Name,
			Type:    agent.Type,
			Enabled: agent.IsEnabled(),
		})
	}
	return summaries
}

func (s *Server) handleRoot(c echo.Context) error {
	summaries := s.agentSummaries()
	return c.JSON(http.StatusOK, map[string]any{
		"message":       "Embeddable chatbot API running",
		"agents_loaded": len(summaries),
		"agents":        summaries,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.newRequestLogger(c, "/status")
	requestLogger.Debug("Health check requested")

	activeTurns := s.tracker.Active()
	response := StatusResponse{
		Status:      "healthy",
		Agents:      len(s.agents.List()),
		ActiveTurns: activeTurns,
		ToolRounds:  MaxToolRounds,
		Search:      s.search,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	requestLogger.WithField("activeTurns", len(activeTurns)).Debug("Status check completed")
	return c.JSON(http.StatusOK, response)
}

func (s *Server) serveFile(c echo.Context, path, missing string) error {
	if _, err := os.Stat(path); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: missing})
	}
	return c.File(path)
}

func (s *Server) handleWidget(c echo.Context) error {
	return s.serveFile(c, filepath.Join(s.config.StaticDir, "widget.js"), "widget script not found")
}

func (s *Server) handleTestPage(c echo.Context) error {
	return s.serveFile(c, s.config.TestPage, "test page not found")
}

func (s *Server) handlePublicConfig(c echo.Context) error {
	requestLogger := s.newRequestLogger(c, "/public-config/:agentId")
	agent, err := s.lookupAgent(c, requestLogger)
	if agent == nil {
		return err
	}
	return c.JSON(http.StatusOK, agent.ToPublic())
}

func (s *Server) handleConfig(c echo.Context) error {
	requestLogger := s.newRequestLogger(c, "/config/:agentId")
	agent, err := s.lookupAgent(c, requestLogger)
	if agent == nil {
		return err
	}
	requestLogger.WithField("agentId", agent.ID).Warn("Full agent configuration requested")
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.newRequestLogger(c, "/chat/:agentId")
	requestLogger.Info("Received chat request")

	agent, err := s.lookupAgent(c, requestLogger)
	if agent == nil {
		return err
	}

	var req ChatMessage
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid request"})
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	requestLogger = requestLogger.WithFields(logrus.Fields{
		"agentId":        agent.ID,
		"conversationId": req.ConversationID,
	})
	requestLogger.WithFields(logrus.Fields{
		"messageLength": len(req.Message),
		"continuation":  req.PreviousResponseID != "",
	}).Debug("Chat request details")

	startTime := time.Now()
	ctx := WithRequestLogger(c.Request().Context(), requestLogger)
	out, err := s.chat.SendMessage(ctx, agent, TurnInput{
		Message:            req.Message,
		ConversationID:     req.ConversationID,
		PreviousResponseID: req.PreviousResponseID,
	})
	executionTime := time.Since(startTime)

	if err != nil {
		status, detail := httpError(err)
		requestLogger.WithError(err).WithFields(logrus.Fields{
			"status":        status,
			"executionTime": executionTime,
		}).Error("Chat turn failed")
		return c.JSON(status, ErrorResponse{Detail: detail})
	}

	if err := s.sink.Record(agent.ID, out.ConversationID, time.Now()); err != nil {
		requestLogger.WithError(err).Error("Failed to record message metrics")
	}
	s.metrics.ObserveMessage(agent.ID)

	requestLogger.WithFields(logrus.Fields{
		"executionTime":  executionTime,
		"responseLength": len(out.Response),
		"partial":        out.Partial,
	}).Info("Chat request completed")

	return c.JSON(http.StatusOK, ChatResponse{
		Response:       out.Response,
		ConversationID: out.ConversationID,
		ResponseID:     out.ResponseID,
		Partial:        out.Partial,
	})
}

// httpError maps a SendMessage failure to a status code and client-facing detail.
func httpError(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err)
	}
	switch e.Kind {
	case ConfigurationMissing:
		return http.StatusBadRequest, e.Error()
	case BackendUnreachable:
		if e.Backend == EmbeddingBackend {
			return http.StatusGatewayTimeout, "search service unavailable"
		}
		return http.StatusGatewayTimeout, "timeout contacting the chatbot"
	case BackendRejected:
		return http.StatusBadGateway, fmt.Sprintf("chatbot error: %d", e.Status)
	default:
		return http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err)
	}
}

func (s *Server) handleListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"agents": s.agentSummaries()})
}

func (s *Server) handleReload(c echo.Context) error {
	requestLogger := s.newRequestLogger(c, "/reload-config")

	count, err := s.agents.Reload()
	if err != nil {
		requestLogger.WithError(err).Error("Failed to reload agents")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
	}

	ids := make([]string, 0, count)
	for _, agent := range s.agents.List() {
		ids = append(ids, agent.ID)
	}
	requestLogger.WithField("agentsLoaded", count).Info("Agent configuration reloaded")

	return c.JSON(http.StatusOK, map[string]any{
		"message":       "Configuration reloaded",
		"agents_loaded": count,
		"agents":        ids,
	})
}

// RegisterRoutes sets up all the HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering HTTP routes")

	e.GET("/", s.handleRoot)
	e.GET("/status", s.handleStatus)
	e.GET("/widget.js", s.handleWidget)
	e.GET("/test", s.handleTestPage)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	e.GET("/public-config/:agentId", s.handlePublicConfig)
	e.GET("/config/:agentId", s.handleConfig)
	e.POST("/chat/:agentId", s.handleChat)
	e.GET("/agents", s.handleListAgents)
	e.POST("/reload-config", s.handleReload)

	e.Static("/static", s.config.StaticDir)

	s.logger.Info("HTTP routes registered successfully")
}
