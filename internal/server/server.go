package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/orchestrator"
	"github.com/lamim/classforge/pkg/models"
)

// DefaultHeartbeat is the SSE keep-alive period
const DefaultHeartbeat = 15 * time.Second

// Config holds the HTTP surface settings
type Config struct {
	Addr        string
	EventBuffer int
	Heartbeat   time.Duration
}

// Server exposes the orchestrator and credit account over HTTP
type Server struct {
	cfg     Config
	orch    *orchestrator.Orchestrator
	account *credits.Account
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds the router. account may be nil, in which case the credit
// routes answer 404.
func New(cfg Config, orch *orchestrator.Orchestrator, account *credits.Account, logger *slog.Logger) *Server {
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 64
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	s := &Server{
		cfg:     cfg,
		orch:    orch,
		account: account,
		logger:  logger.With("component", "server"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthcheck", func(c *gin.Context) { RespondOK(c, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/run", s.getRun)
		api.POST("/run", s.submit)
		api.DELETE("/run", s.clear)
		api.POST("/run/refine", s.refine)

		api.GET("/edit", s.getEdit)
		api.POST("/edit", s.beginEdit)
		api.PUT("/edit", s.updateDraft)
		api.POST("/edit/save", s.saveEdit)
		api.DELETE("/edit", s.cancelEdit)

		api.GET("/events", s.streamEvents)

		if s.account != nil {
			api.GET("/credits", s.getBalance)
			api.GET("/credits/history", s.getHistory)
			api.POST("/credits/topup", s.topUp)
			api.POST("/credits/quote", s.quote)
		}
	}
	return r
}

type submitRequest struct {
	VideoURL       string                 `json:"video_url"`
	TopicOrDetails string                 `json:"topic_or_details"`
	Complexity     int                    `json:"complexity" binding:"omitempty,min=1,max=3"`
	Materials      models.MaterialRequest `json:"materials"`
}

func (r submitRequest) basis() models.ContentBasis {
	return models.ContentBasis{
		VideoURL:       r.VideoURL,
		TopicOrDetails: r.TopicOrDetails,
		Complexity:     r.Complexity,
	}
}

type refineRequest struct {
	Instructions string `json:"instructions" binding:"required"`
}

type draftRequest struct {
	Draft string `json:"draft"`
}

type topUpRequest struct {
	Amount int `json:"amount" binding:"required,min=1,max=100000"`
}

func (s *Server) getRun(c *gin.Context) {
	RespondOK(c, s.orch.Snapshot())
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	run, err := s.orch.Submit(c.Request.Context(), req.basis(), req.Materials)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) clear(c *gin.Context) {
	if err := s.orch.Clear(); err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, s.orch.Snapshot())
}

func (s *Server) refine(c *gin.Context) {
	var req refineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	run, err := s.orch.Refine(c.Request.Context(), req.Instructions)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) getEdit(c *gin.Context) {
	session, ok := s.orch.EditSnapshot()
	if !ok {
		RespondError(c, http.StatusNotFound, "not_found", orchestrator.ErrNoEditSession)
		return
	}
	RespondOK(c, session)
}

func (s *Server) beginEdit(c *gin.Context) {
	session, err := s.orch.BeginEdit(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, session)
}

func (s *Server) updateDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := s.orch.UpdateDraft(req.Draft); err != nil {
		respondDomainError(c, err)
		return
	}
	session, _ := s.orch.EditSnapshot()
	RespondOK(c, session)
}

func (s *Server) saveEdit(c *gin.Context) {
	run, err := s.orch.SaveEdit(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, run)
}

func (s *Server) cancelEdit(c *gin.Context) {
	if err := s.orch.CancelEdit(); err != nil {
		respondDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type balanceResponse struct {
	Identity string `json:"identity"`
	Enabled  bool   `json:"enabled"`
	Balance  int    `json:"balance"`
}

type lineItemResponse struct {
	Label  string       `json:"label"`
	Tier   credits.Tier `json:"tier,omitempty"`
	Amount int          `json:"amount"`
}

type quoteResponse struct {
	Items   []lineItemResponse `json:"items"`
	Total   int                `json:"total"`
	Balance int                `json:"balance"`
	Allowed bool               `json:"allowed"`
}

type transactionResponse struct {
	ID           int64     `json:"id"`
	Amount       int       `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int       `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) getBalance(c *gin.Context) {
	balance, err := s.account.Balance(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	RespondOK(c, balanceResponse{Identity: s.account.Identity(), Enabled: s.account.Enabled(), Balance: balance})
}

func (s *Server) getHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	txs, err := s.account.History(c.Request.Context(), limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:           tx.ID,
			Amount:       tx.Amount,
			Reason:       tx.Reason,
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt,
		})
	}
	RespondOK(c, out)
}

func (s *Server) topUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	balance, err := s.account.TopUp(c.Request.Context(), req.Amount)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	s.logger.Info("Credits topped up", "identity", s.account.Identity(), "amount", req.Amount, "balance", balance)
	RespondOK(c, balanceResponse{Identity: s.account.Identity(), Enabled: s.account.Enabled(), Balance: balance})
}

func (s *Server) quote(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	basis := req.basis()
	if basis.Complexity == 0 {
		basis.Complexity = models.ComplexityStandard
	}
	op := credits.GenerateOp(basis, req.Materials)

	d, err := s.account.Check(c.Request.Context(), op)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	balance, err := s.account.Balance(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	schedule := s.account.Schedule()
	resp := quoteResponse{Total: schedule.Cost(op), Balance: balance, Allowed: d.Allowed}
	for _, item := range schedule.Breakdown(op) {
		resp.Items = append(resp.Items, lineItemResponse{Label: item.Label, Tier: item.Tier, Amount: item.Amount})
	}
	RespondOK(c, resp)
}
