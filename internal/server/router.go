package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/florianbrrl/pixelboard/internal/auth"
	"github.com/florianbrrl/pixelboard/internal/board"
	"github.com/florianbrrl/pixelboard/internal/hub"
	"github.com/florianbrrl/pixelboard/internal/placement"
)

const identityContextKey = "pixelboard_identity"

var (
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingBoardService     = errors.New("board service dependency required")
	errMissingPlacementService = errors.New("placement service dependency required")
	errMissingHub              = errors.New("broadcast hub dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenManager validates bearer tokens into resolved identities.
type TokenManager interface {
	ValidateToken(token string) (auth.Identity, error)
}

// TokenMinter signs new bearer tokens for resolved identities.
type TokenMinter interface {
	IssueToken(ctx context.Context, identity auth.Identity) (string, int64, error)
}

// Dependencies wires the HTTP surface to the engine.
type Dependencies struct {
	TokenManager     TokenManager
	TokenMinter      TokenMinter
	MintSecret       []byte
	BoardService     *board.Service
	PlacementService *placement.Service
	Hub              *hub.Hub
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router for the placement engine API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.BoardService == nil {
		return nil, errMissingBoardService
	}
	if deps.PlacementService == nil {
		return nil, errMissingPlacementService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		minter:     deps.TokenMinter,
		mintSecret: deps.MintSecret,
		boards:     deps.BoardService,
		placements: deps.PlacementService,
		hub:        deps.Hub,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.TokenMinter != nil {
		router.POST("/auth/token", handler.handleMintToken)
	}

	boards := router.Group("/boards")
	boards.Use(handler.resolveIdentity)
	boards.POST("", handler.requirePrivileged, handler.handleCreateBoard)
	boards.GET("/:boardID", handler.handleGetBoard)
	boards.POST("/:boardID/pixels", handler.handlePlacePixel)
	boards.GET("/:boardID/pixels", handler.handleGetPixel)
	boards.GET("/:boardID/pixels/history", handler.handleHistory)
	boards.GET("/:boardID/cooldown", handler.requireIdentity, handler.handleCooldown)
	boards.GET("/:boardID/updates", handler.handleUpdates)
	boards.GET("/:boardID/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	minter     TokenMinter
	mintSecret []byte
	boards     *board.Service
	placements *placement.Service
	hub        *hub.Hub
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type mintTokenPayload struct {
	Secret     string `json:"secret"`
	UserID     string `json:"user_id"`
	Privileged bool   `json:"privileged"`
}

// handleMintToken signs a bearer token for a requested identity. The
// caller must present the server's signing secret; the endpoint exists
// for development and operator tooling, not end-user authentication.
func (h *httpHandler) handleMintToken(c *gin.Context) {
	var request mintTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(h.mintSecret) == 0 ||
		subtle.ConstantTimeCompare([]byte(request.Secret), h.mintSecret) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "mint_forbidden"})
		return
	}
	if request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.minter.IssueToken(c.Request.Context(),
		auth.Identity{UserID: request.UserID, Privileged: request.Privileged})
	if err != nil {
		h.logger.Error("token mint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_mint_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": expiresIn})
}

// resolveIdentity attaches the bearer identity when present. Requests
// without a token proceed anonymously; a malformed or invalid token is
// rejected rather than silently downgraded.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) requireIdentity(c *gin.Context) {
	if _, ok := callerIdentity(c); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) requirePrivileged(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok || !identity.Privileged {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "privileged_token_required"})
		return
	}
	c.Next()
}

func callerIdentity(c *gin.Context) (auth.Identity, bool) {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

type createBoardPayload struct {
	BoardID         string `json:"board_id"`
	Name            string `json:"name"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	CooldownSeconds int    `json:"cooldown_s"`
	AllowOverwrite  *bool  `json:"allow_overwrite"`
	StartTimeMS     int64  `json:"start_time_ms"`
	EndTimeMS       int64  `json:"end_time_ms"`
	IsActive        *bool  `json:"is_active"`
}

func (h *httpHandler) handleCreateBoard(c *gin.Context) {
	var request createBoardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	definition := board.Board{
		BoardID:         request.BoardID,
		Name:            request.Name,
		Width:           request.Width,
		Height:          request.Height,
		CooldownSeconds: request.CooldownSeconds,
		AllowOverwrite:  true,
		StartTimeMS:     request.StartTimeMS,
		EndTimeMS:       request.EndTimeMS,
		IsActive:        true,
	}
	if request.AllowOverwrite != nil {
		definition.AllowOverwrite = *request.AllowOverwrite
	}
	if request.IsActive != nil {
		definition.IsActive = *request.IsActive
	}

	created, err := h.boards.Create(c.Request.Context(), definition)
	if errors.Is(err, board.ErrInvalidBoard) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_board", "detail": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("board creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "board_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, boardResponse(created))
}

func (h *httpHandler) handleGetBoard(c *gin.Context) {
	fetched, err := h.boards.Get(c.Request.Context(), c.Param("boardID"))
	if errors.Is(err, board.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": string(placement.ReasonBoardNotFound)})
		return
	}
	if err != nil {
		h.logger.Error("board lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient"})
		return
	}
	c.JSON(http.StatusOK, boardResponse(fetched))
}

func boardResponse(b board.Board) gin.H {
	return gin.H{
		"board_id":        b.BoardID,
		"name":            b.Name,
		"width":           b.Width,
		"height":          b.Height,
		"cooldown_s":      b.CooldownSeconds,
		"allow_overwrite": b.AllowOverwrite,
		"start_time_ms":   b.StartTimeMS,
		"end_time_ms":     b.EndTimeMS,
		"is_active":       b.IsActive,
	}
}

type placePixelPayload struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

func (h *httpHandler) handlePlacePixel(c *gin.Context) {
	var request placePixelPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, _ := callerIdentity(c)
	event, err := h.placements.Place(c.Request.Context(), placement.PlaceRequest{
		BoardID:    c.Param("boardID"),
		X:          request.X,
		Y:          request.Y,
		Color:      request.Color,
		UserID:     identity.UserID,
		Privileged: identity.Privileged,
	})
	if err != nil {
		h.writePlacementError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

func (h *httpHandler) writePlacementError(c *gin.Context, err error) {
	if rejection, ok := placement.AsRejection(err); ok {
		status := rejectionStatus(rejection.Reason)
		body := gin.H{"error": string(rejection.Reason)}
		if rejection.Reason == placement.ReasonCooldownActive {
			body["remaining_s"] = rejection.RemainingSeconds
		}
		c.JSON(status, body)
		return
	}
	if placement.IsTransient(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient", "retryable": true})
		return
	}
	h.logger.Error("placement failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "placement_failed"})
}

func rejectionStatus(reason placement.Reason) int {
	switch reason {
	case placement.ReasonBoardNotFound:
		return http.StatusNotFound
	case placement.ReasonBoardInactive:
		return http.StatusForbidden
	case placement.ReasonCooldownActive:
		return http.StatusTooManyRequests
	case placement.ReasonOverwriteForbidden:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *httpHandler) handleGetPixel(c *gin.Context) {
	x, y, ok := coordinateQuery(c)
	if !ok {
		return
	}

	color, occupied, err := h.placements.CurrentPixel(c.Request.Context(), c.Param("boardID"), x, y)
	if err != nil {
		h.writePlacementError(c, err)
		return
	}
	if !occupied {
		c.JSON(http.StatusNotFound, gin.H{"error": "pixel_not_set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"color": color})
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	x, y, ok := coordinateQuery(c)
	if !ok {
		return
	}

	events, err := h.placements.History(c.Request.Context(), c.Param("boardID"), x, y)
	if err != nil {
		h.writePlacementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) handleCooldown(c *gin.Context) {
	identity, _ := callerIdentity(c)
	if identity.Privileged {
		c.JSON(http.StatusOK, gin.H{"can_place": true, "remaining_s": 0})
		return
	}

	canPlace, remaining, err := h.placements.CooldownStatus(c.Request.Context(), c.Param("boardID"), identity.UserID)
	if err != nil {
		h.writePlacementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_place": canPlace, "remaining_s": remaining})
}

func (h *httpHandler) handleUpdates(c *gin.Context) {
	sinceRaw := c.Query("since")
	since, err := strconv.ParseInt(sinceRaw, 10, 64)
	if sinceRaw == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
		return
	}

	events, err := h.placements.UpdatesSince(c.Request.Context(), c.Param("boardID"), since)
	if err != nil {
		h.writePlacementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	boardID := c.Param("boardID")
	if _, err := h.boards.Get(c.Request.Context(), boardID); errors.Is(err, board.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": string(placement.ReasonBoardNotFound)})
		return
	} else if err != nil {
		h.logger.Error("board lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient"})
		return
	}
	hub.ServeWS(h.hub, h.logger, boardID, c.Writer, c.Request)
}

func coordinateQuery(c *gin.Context) (int, int, bool) {
	x, errX := strconv.Atoi(c.Query("x"))
	y, errY := strconv.Atoi(c.Query("y"))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinates"})
		return 0, 0, false
	}
	return x, y, true
}
