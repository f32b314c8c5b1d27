package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/auth"
	"github.com/jmerrifield20/minichain/internal/chain"
	"github.com/jmerrifield20/minichain/internal/service"
)

// ChainHandler exposes the chain service over HTTP.
type ChainHandler struct {
	svc    *service.ChainService
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewChainHandler creates a new ChainHandler.
// tokens may be nil to leave write routes open (development only).
func NewChainHandler(svc *service.ChainService, tokens *auth.TokenIssuer, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireWrite returns the scope check when auth is configured, or a no-op.
func (h *ChainHandler) requireWrite() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireScope(h.tokens, auth.ScopeWrite)
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	chains := rg.Group("/chains")
	{
		chains.GET("", h.List)
		chains.POST("", h.requireWrite(), h.Create)
		chains.GET("/:name", h.Overview)
		chains.DELETE("/:name", h.requireWrite(), h.Delete)
		chains.GET("/:name/blocks", h.ListBlocks)
		chains.POST("/:name/blocks", h.requireWrite(), h.Append)
		chains.GET("/:name/blocks/:idx", h.GetBlock)
		chains.GET("/:name/verify", h.Verify)
		chains.POST("/:name/fork", h.requireWrite(), h.Fork)
		chains.GET("/:name/ancestor/:other", h.Ancestor)
		chains.POST("/:name/ancestor/:other", h.requireWrite(), h.SaveAncestor)
	}
}

type createRequest struct {
	Name string `json:"name"`
}

type appendRequest struct {
	Transaction *string `json:"transaction" binding:"required"`
}

type forkRequest struct {
	Point *int   `json:"point"`
	Name  string `json:"name"`
}

// List handles GET /chains: returns a summary of every chain.
func (h *ChainHandler) List(c *gin.Context) {
	infos, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, "list chains", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chains": infos, "count": len(infos)})
}

// Create handles POST /chains: starts a new chain. The body is optional.
func (h *ChainHandler) Create(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	info, err := h.svc.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, "create chain", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Overview handles GET /chains/:name: returns the length and head hash.
func (h *ChainHandler) Overview(c *gin.Context) {
	info, err := h.svc.Info(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "chain info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Delete handles DELETE /chains/:name.
func (h *ChainHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, "delete chain", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBlocks handles GET /chains/:name/blocks: returns block records.
// Optional ?from= and ?limit= select a window.
func (h *ChainHandler) ListBlocks(c *gin.Context) {
	from, err := queryInt(c, "from", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a non-negative integer"})
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	recs, err := h.svc.Records(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "list blocks", err)
		return
	}

	total := len(recs)
	recs = recs[min(from, total):]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"blocks": recs, "total": total})
}

// GetBlock handles GET /chains/:name/blocks/:idx: returns a single block.
func (h *ChainHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	rec, err := h.svc.Block(c.Request.Context(), c.Param("name"), idx)
	if err != nil {
		h.fail(c, "get block", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Append handles POST /chains/:name/blocks: seals a transaction into a block.
func (h *ChainHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.Append(c.Request.Context(), c.Param("name"), *req.Transaction)
	if err != nil {
		h.fail(c, "append block", err)
		return
	}
	RecordBlockBytes(len(*req.Transaction))
	c.JSON(http.StatusCreated, rec)
}

// Verify handles GET /chains/:name/verify: walks the chain and reports
// every integrity violation. An invalid chain is still a 200.
func (h *ChainHandler) Verify(c *gin.Context) {
	res, err := h.svc.Verify(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "verify chain", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Fork handles POST /chains/:name/fork: stores a truncated copy under a new
// name. Omitting point copies the whole chain.
func (h *ChainHandler) Fork(c *gin.Context) {
	var req forkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	point := chain.WholeChain
	if req.Point != nil {
		point = *req.Point
	}

	info, err := h.svc.Fork(c.Request.Context(), c.Param("name"), point, req.Name)
	if err != nil {
		h.fail(c, "fork chain", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Ancestor handles GET /chains/:name/ancestor/:other: returns the blocks
// both chains share without storing them.
func (h *ChainHandler) Ancestor(c *gin.Context) {
	root, err := h.svc.CommonAncestor(c.Request.Context(), c.Param("name"), c.Param("other"))
	if err != nil {
		h.fail(c, "common ancestor", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"length": root.Len(),
		"head":   root.Head().Hash(),
		"blocks": root.Records(),
	})
}

// SaveAncestor handles POST /chains/:name/ancestor/:other: stores the shared
// prefix under the name given in the body.
func (h *ChainHandler) SaveAncestor(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	info, err := h.svc.SaveCommonAncestor(c.Request.Context(), c.Param("name"), c.Param("other"), req.Name)
	if err != nil {
		h.fail(c, "save common ancestor", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// fail maps service and chain errors onto HTTP status codes.
func (h *ChainHandler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, chain.ErrBlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidName), errors.Is(err, chain.ErrInvalidForkPoint):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTransactionTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.String("chain", c.Param("name")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
