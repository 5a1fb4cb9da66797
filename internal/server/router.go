package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/auth"
	"github.com/ProPulseLabs/teamcore/internal/monitoring"
	"github.com/ProPulseLabs/teamcore/internal/payouts"
	"github.com/ProPulseLabs/teamcore/internal/projection"
	"github.com/ProPulseLabs/teamcore/internal/rank"
	"github.com/ProPulseLabs/teamcore/internal/referral"
	"github.com/ProPulseLabs/teamcore/internal/rewards"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const identityContextKey = "teamcore_identity"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingReferralService = errors.New("referral service dependency required")
	errMissingRewardsService  = errors.New("rewards service dependency required")
	errMissingPayoutsService  = errors.New("payouts service dependency required")
	errMissingProjection      = errors.New("projection service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens guarding the API.
type TokenManager interface {
	IssueToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires every domain service into the HTTP surface.
type Dependencies struct {
	TokenManager TokenManager
	Referral     *referral.Service
	Rewards      *rewards.Service
	Payouts      *payouts.Service
	Projection   *projection.Service
	Realtime     *RealtimeDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router over the domain services.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Referral == nil {
		return nil, errMissingReferralService
	}
	if deps.Rewards == nil {
		return nil, errMissingRewardsService
	}
	if deps.Payouts == nil {
		return nil, errMissingPayoutsService
	}
	if deps.Projection == nil {
		return nil, errMissingProjection
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.RequestMetrics())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		referral:   deps.Referral,
		rewards:    deps.Rewards,
		payouts:    deps.Payouts,
		projection: deps.Projection,
		realtime:   realtime,
		logger:     logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/auth/token", handler.handleIssueToken)

	team := router.Group("/team")
	team.Use(handler.authorizeRequest)
	team.POST("/init-membership", handler.handleInitMembership)
	team.GET("/check-status", handler.handleCheckStatus)
	team.GET("/my-referral-code", handler.handleMyReferralCode)
	team.POST("/validate-referral-code", handler.handleValidateCode)
	team.POST("/apply-referral-code", handler.handleApplyCode)
	team.POST("/activate", handler.handleActivate)
	team.GET("/downline-structure/me", handler.handleDownlineTree)
	team.GET("/my-downline", handler.handleMyDownline)
	team.GET("/stats", handler.handleStats)
	team.GET("/rewards/available", handler.handleRewardsAvailable)
	team.POST("/rewards/claim", handler.handleRewardsClaim)
	team.GET("/payout/balance", handler.handlePayoutBalance)
	team.GET("/payout/stats", handler.handlePayoutStats)
	team.GET("/payout/history", handler.handlePayoutHistory)
	team.POST("/payout/request", handler.handlePayoutRequest)
	team.GET("/events", handler.handleEvents)

	admin := team.Group("/")
	admin.Use(handler.requireAdmin)
	admin.POST("/rewards/advance", handler.handleRewardsAdvance)
	admin.POST("/payout/advance", handler.handlePayoutAdvance)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	referral   *referral.Service
	rewards    *rewards.Service
	payouts    *payouts.Service
	projection *projection.Service
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequestPayload struct {
	MemberID string `json:"memberId"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleIssueToken exchanges an upstream-verified identity for an API token.
// The endpoint trusts its caller; it is meant to sit behind the identity
// gateway, not on the public edge.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.MemberID) == "" {
		failure(c, http.StatusBadRequest, "memberId is required")
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), auth.Identity{
		MemberID: strings.TrimSpace(request.MemberID),
		Name:     strings.TrimSpace(request.Name),
		Role:     strings.TrimSpace(request.Role),
	})
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		failure(c, http.StatusInternalServerError, "token issuance failed")
		return
	}

	success(c, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleInitMembership(c *gin.Context) {
	identity := h.identity(c)

	member, created, err := h.referral.InitMembership(c.Request.Context(), identity.MemberID, identity.Name, "")
	if err != nil {
		h.renderError(c, err)
		return
	}

	message := "Membership already initialized"
	if created {
		message = "Membership initialized"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data": gin.H{
			"memberId":          member.ID,
			"referralCode":      member.ReferralCode,
			"leftReferralCode":  member.LeftReferralCode,
			"rightReferralCode": member.RightReferralCode,
		},
	})
}

func (h *httpHandler) handleCheckStatus(c *gin.Context) {
	identity := h.identity(c)

	member, err := h.referral.GetMember(c.Request.Context(), identity.MemberID)
	if err != nil {
		var domainErr *referral.Error
		if errors.As(err, &domainErr) && domainErr.Code == referral.CodeMemberNotFound {
			success(c, gin.H{"hasMembership": false, "hasJoinedTeam": false})
			return
		}
		h.renderError(c, err)
		return
	}

	success(c, gin.H{
		"hasMembership":   true,
		"hasJoinedTeam":   member.SponsorID != nil,
		"isActive":        member.IsActive,
		"binaryActivated": member.BinaryActivated,
		"position":        member.Position,
	})
}

func (h *httpHandler) handleMyReferralCode(c *gin.Context) {
	identity := h.identity(c)

	summary, err := h.projection.ReferralSummary(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, summary)
}

type codePayload struct {
	Code string `json:"code"`
}

func (h *httpHandler) handleValidateCode(c *gin.Context) {
	var request codePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		failure(c, http.StatusBadRequest, "code is required")
		return
	}

	validation, err := h.referral.ValidateCode(c.Request.Context(), request.Code)
	if err != nil {
		h.renderError(c, err)
		return
	}

	success(c, gin.H{
		"referrerName":   validation.Sponsor.Name,
		"referrerLevel":  validation.Sponsor.Level,
		"directCount":    validation.Sponsor.DirectCount,
		"position":       validation.Position,
		"currentCount":   validation.CurrentCount,
		"isAvailable":    validation.IsAvailable,
		"has2x2Achieved": validation.Has2x2Achieved,
	})
}

func (h *httpHandler) handleApplyCode(c *gin.Context) {
	identity := h.identity(c)

	var request codePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		failure(c, http.StatusBadRequest, "code is required")
		return
	}

	member, err := h.referral.ApplyPlacement(c.Request.Context(), identity.MemberID, request.Code)
	if err != nil {
		monitoring.PlacementsTotal.WithLabelValues(placementOutcome(err)).Inc()
		h.renderError(c, err)
		return
	}
	monitoring.PlacementsTotal.WithLabelValues(monitoring.OutcomeOK).Inc()

	if member.SponsorID != nil {
		h.realtime.Publish(RealtimeMessage{
			MemberID:  *member.SponsorID,
			EventType: RealtimeEventTeamUpdated,
			Payload: gin.H{
				"kind":     "placement",
				"memberId": member.ID,
				"position": member.Position,
			},
			Timestamp: time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Referral code applied",
		"data": gin.H{
			"memberId": member.ID,
			"position": member.Position,
		},
	})
}

type activatePayload struct {
	Active     bool    `json:"active"`
	PersonalPV float64 `json:"personalPV"`
}

func (h *httpHandler) handleActivate(c *gin.Context) {
	identity := h.identity(c)

	var request activatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		failure(c, http.StatusBadRequest, "invalid activation payload")
		return
	}
	if request.Active && request.PersonalPV <= 0 {
		failure(c, http.StatusBadRequest, "personalPV must be positive for activation")
		return
	}

	if err := h.referral.SetActivation(c.Request.Context(), identity.MemberID, request.Active, request.PersonalPV); err != nil {
		h.renderError(c, err)
		return
	}

	h.realtime.Publish(RealtimeMessage{
		MemberID:  identity.MemberID,
		EventType: RealtimeEventTeamUpdated,
		Payload:   gin.H{"kind": "activation", "active": request.Active},
		Timestamp: time.Now().UTC(),
	})
	success(c, gin.H{"active": request.Active})
}

func (h *httpHandler) handleDownlineTree(c *gin.Context) {
	identity := h.identity(c)

	maxDepth := 0
	if raw := c.Query("maxDepth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			failure(c, http.StatusBadRequest, "maxDepth must be a non-negative integer")
			return
		}
		maxDepth = parsed
	}

	tree, err := h.projection.DownlineTree(c.Request.Context(), identity.MemberID, maxDepth)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, tree)
}

func (h *httpHandler) handleMyDownline(c *gin.Context) {
	identity := h.identity(c)

	breakdown, err := h.projection.Downline(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, breakdown)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	identity := h.identity(c)

	member, err := h.referral.GetMember(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	snapshot := rank.BuildSnapshot(rank.SnapshotInput{
		LeftLegPV:             member.LeftLegPV,
		RightLegPV:            member.RightLegPV,
		TotalActiveAffiliates: member.TotalActiveAffiliates,
		DirectCount:           member.DirectCount,
		LeftLegCount:          member.LeftLegCount,
		RightLegCount:         member.RightLegCount,
		BinaryActivated:       member.BinaryActivated,
		ActivationThreshold:   referral.ActivationDirectThreshold,
	})
	success(c, gin.H{
		"binary":              snapshot,
		"highestRankAchieved": member.HighestRankAchieved,
		"totalEarnings":       member.TotalEarnings,
	})
}

func (h *httpHandler) handleRewardsAvailable(c *gin.Context) {
	identity := h.identity(c)

	member, err := h.referral.GetMember(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	available, claimed, err := h.rewards.Available(c.Request.Context(), member.ID, member.HighestRankAchieved)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, gin.H{
		"availableRewards": available,
		"claimedRewards":   claimed,
	})
}

type rewardClaimPayload struct {
	Rank            rank.Rank                `json:"rank"`
	ShippingAddress *rewards.ShippingAddress `json:"shippingAddress"`
	Size            string                   `json:"size"`
	Color           string                   `json:"color"`
	Notes           string                   `json:"notes"`
}

func (h *httpHandler) handleRewardsClaim(c *gin.Context) {
	identity := h.identity(c)

	var request rewardClaimPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Rank == "" {
		failure(c, http.StatusBadRequest, "rank is required")
		return
	}

	member, err := h.referral.GetMember(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	claimed, err := h.rewards.Claim(c.Request.Context(), member.ID, member.HighestRankAchieved, rewards.ClaimRequest{
		Rank:            request.Rank,
		ShippingAddress: request.ShippingAddress,
		Size:            request.Size,
		Color:           request.Color,
		Notes:           request.Notes,
	})
	if err != nil {
		monitoring.RewardClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
		h.renderError(c, err)
		return
	}
	monitoring.RewardClaimsTotal.WithLabelValues(monitoring.OutcomeOK).Inc()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Reward claimed",
		"data": gin.H{
			"rank":   claimed.Rank,
			"status": claimed.Status,
		},
	})
}

func (h *httpHandler) handlePayoutBalance(c *gin.Context) {
	identity := h.identity(c)

	balance, err := h.payouts.Balance(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, balance)
}

func (h *httpHandler) handlePayoutStats(c *gin.Context) {
	identity := h.identity(c)

	stats, err := h.payouts.Stats(c.Request.Context(), identity.MemberID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, stats)
}

func (h *httpHandler) handlePayoutHistory(c *gin.Context) {
	identity := h.identity(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	rows, pagination, err := h.payouts.History(c.Request.Context(), identity.MemberID, page, limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, gin.H{
		"payouts":    rows,
		"pagination": pagination,
	})
}

func (h *httpHandler) handlePayoutRequest(c *gin.Context) {
	identity := h.identity(c)

	var request payouts.Request
	if err := c.ShouldBindJSON(&request); err != nil {
		failure(c, http.StatusBadRequest, "invalid payout payload")
		return
	}

	row, err := h.payouts.Submit(c.Request.Context(), identity.MemberID, request)
	if err != nil {
		monitoring.PayoutRequestsTotal.WithLabelValues(payoutOutcome(err)).Inc()
		h.renderError(c, err)
		return
	}
	monitoring.PayoutRequestsTotal.WithLabelValues(monitoring.OutcomeOK).Inc()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payout request submitted",
		"data":    row,
	})
}

type rewardAdvancePayload struct {
	MemberID       string         `json:"memberId"`
	Rank           rank.Rank      `json:"rank"`
	Status         rewards.Status `json:"status"`
	TrackingNumber string         `json:"trackingNumber"`
}

func (h *httpHandler) handleRewardsAdvance(c *gin.Context) {
	var request rewardAdvancePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.MemberID == "" || request.Rank == "" || request.Status == "" {
		failure(c, http.StatusBadRequest, "memberId, rank and status are required")
		return
	}

	updated, err := h.rewards.Advance(c.Request.Context(), request.MemberID, request.Rank, request.Status, request.TrackingNumber)
	if err != nil {
		h.renderError(c, err)
		return
	}
	success(c, gin.H{
		"rank":           updated.Rank,
		"status":         updated.Status,
		"trackingNumber": updated.TrackingNumber,
	})
}

type payoutAdvancePayload struct {
	PayoutID string         `json:"payoutId"`
	Status   payouts.Status `json:"status"`
	TxHash   string         `json:"txHash"`
}

func (h *httpHandler) handlePayoutAdvance(c *gin.Context) {
	var request payoutAdvancePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.PayoutID == "" || request.Status == "" {
		failure(c, http.StatusBadRequest, "payoutId and status are required")
		return
	}

	if err := h.payouts.Advance(c.Request.Context(), request.PayoutID, request.Status, request.TxHash); err != nil {
		h.renderError(c, err)
		return
	}
	success(c, gin.H{"payoutId": request.PayoutID, "status": request.Status})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client churn, not a fault worth paging on.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !h.identity(c).IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "admin role required"})
		return
	}
	c.Next()
}

func (h *httpHandler) identity(c *gin.Context) auth.Identity {
	value, _ := c.Get(identityContextKey)
	identity, _ := value.(auth.Identity)
	return identity
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func failure(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// renderError maps domain errors onto HTTP statuses and the envelope the
// frontend renders directly. Unknown errors never leak details.
func (h *httpHandler) renderError(c *gin.Context, err error) {
	var referralErr *referral.Error
	if errors.As(err, &referralErr) {
		body := gin.H{"success": false, "message": referralErr.Message, "code": referralErr.Code}
		if referralErr.Code == referral.CodeLegFull {
			body["position"] = referralErr.Position
			body["currentCount"] = referralErr.CurrentCount
			if referralErr.SuggestedCode != "" {
				body["suggestedCode"] = referralErr.SuggestedCode
			}
		}
		c.JSON(referralStatus(referralErr.Code), body)
		return
	}

	var rewardErr *rewards.Error
	if errors.As(err, &rewardErr) {
		c.JSON(rewardStatus(rewardErr.Code), gin.H{"success": false, "message": rewardErr.Message, "code": rewardErr.Code})
		return
	}

	var payoutErr *payouts.Error
	if errors.As(err, &payoutErr) {
		c.JSON(payoutStatus(payoutErr.Code), gin.H{"success": false, "message": payoutErr.Message, "code": payoutErr.Code})
		return
	}

	if errors.Is(err, projection.ErrMemberNotFound) {
		failure(c, http.StatusNotFound, "Member not found")
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	failure(c, http.StatusInternalServerError, "internal error")
}

func referralStatus(code referral.ErrorCode) int {
	switch code {
	case referral.CodeInvalidCode:
		return http.StatusNotFound
	case referral.CodeMemberNotFound:
		return http.StatusNotFound
	case referral.CodeLegFull, referral.CodeAlreadyPlaced:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func rewardStatus(code rewards.ErrorCode) int {
	switch code {
	case rewards.CodeNotEligible:
		return http.StatusForbidden
	case rewards.CodeAlreadyClaimed, rewards.CodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func payoutStatus(code payouts.ErrorCode) int {
	switch code {
	case payouts.CodeNotFound:
		return http.StatusNotFound
	case payouts.CodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func placementOutcome(err error) string {
	var domainErr *referral.Error
	if errors.As(err, &domainErr) {
		return monitoring.OutcomeRejected
	}
	return monitoring.OutcomeError
}

func claimOutcome(err error) string {
	var domainErr *rewards.Error
	if errors.As(err, &domainErr) {
		return monitoring.OutcomeRejected
	}
	return monitoring.OutcomeError
}

func payoutOutcome(err error) string {
	var domainErr *payouts.Error
	if errors.As(err, &domainErr) {
		return monitoring.OutcomeRejected
	}
	return monitoring.OutcomeError
}
