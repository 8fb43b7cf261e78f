// Package server exposes the admin console HTTP surface: login, collection
// reads, membership replacement and the per-admin panel session operations.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenworks/backoffice/internal/admins"
	"github.com/lumenworks/backoffice/internal/content"
	"github.com/lumenworks/backoffice/internal/hierarchy"
	"github.com/lumenworks/backoffice/internal/membership"
	"github.com/lumenworks/backoffice/internal/panel"
)

const adminSubjectContextKey = "backoffice_admin_subject"

const defaultEventWaitSeconds = 25

var (
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingContentService = errors.New("content service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenIssuer is the slice of the auth issuer the router needs.
type TokenIssuer interface {
	Login(adminID, accessKey string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the router's collaborators.
type Dependencies struct {
	TokenIssuer    TokenIssuer
	ContentService *content.Service
	Admins         *admins.Registry
	Feed           *ChangeFeed
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewHTTPHandler validates dependencies and builds the gin handler.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.ContentService == nil {
		return nil, errMissingContentService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := deps.Feed
	if feed == nil {
		feed = NewChangeFeed()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	saver := &contentSaver{service: deps.ContentService}
	handler := &httpHandler{
		tokens:  deps.TokenIssuer,
		service: deps.ContentService,
		admins:  deps.Admins,
		feed:    feed,
		logger:  logger,
		clock:   clock,
		sessions: newSessionRegistry(func() (*panel.Controller, error) {
			return panel.NewController(panel.Config{
				Saver:       saver,
				Membership:  deps.ContentService,
				TemplateFor: templateFields,
				Clock:       clock,
				Logger:      logger,
			})
		}),
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/collections/:kind", handler.handleListCollection)
	protected.GET("/collections/:kind/tree", handler.handleCollectionTree)
	protected.DELETE("/records/:record_id", handler.handleDeleteRecord)
	protected.GET("/sets/:set_id/members", handler.handleListMembers)
	protected.PUT("/sets/:set_id/members", handler.handleReplaceMembers)
	protected.POST("/panel/open", handler.handlePanelOpen)
	protected.GET("/panel", handler.handlePanelState)
	protected.POST("/panel/field", handler.handlePanelField)
	protected.POST("/panel/reset", handler.handlePanelReset)
	protected.POST("/panel/close", handler.handlePanelClose)
	protected.POST("/panel/submit", handler.handlePanelSubmit)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens   TokenIssuer
	service  *content.Service
	admins   *admins.Registry
	feed     *ChangeFeed
	logger   *zap.Logger
	clock    func() time.Time
	sessions *sessionRegistry
}

type loginRequestPayload struct {
	AdminID   string `json:"admin_id"`
	AccessKey string `json:"access_key"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AdminID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Login(request.AdminID, request.AccessKey)
	if err != nil {
		h.logger.Warn("admin login failed", zap.String("admin_id", request.AdminID), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.admins != nil {
		if err := h.admins.RecordLogin(request.AdminID); err != nil {
			h.logger.Warn("failed to record admin login", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}

type recordPayload struct {
	RecordID         string         `json:"record_id"`
	Kind             string         `json:"kind"`
	ParentID         string         `json:"parent_id,omitempty"`
	Position         int            `json:"position"`
	Version          int64          `json:"version"`
	UpdatedAtSeconds int64          `json:"updated_at_s"`
	Fields           map[string]any `json:"fields"`
}

func recordToPayload(record content.Record) (recordPayload, error) {
	fields, err := content.DraftFields(record)
	if err != nil {
		return recordPayload{}, err
	}
	return recordPayload{
		RecordID:         record.RecordID,
		Kind:             record.Kind,
		ParentID:         record.ParentID,
		Position:         record.Position,
		Version:          record.Version,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
		Fields:           fields,
	}, nil
}

func (h *httpHandler) handleListCollection(c *gin.Context) {
	kind, err := content.NewKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	records, err := h.service.ListRecords(c.Request.Context(), kind)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]recordPayload, 0, len(records))
	for _, record := range records {
		payload, err := recordToPayload(record)
		if err != nil {
			h.logger.Warn("record projection failed",
				zap.String("record_id", record.RecordID), zap.Error(err))
			continue
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"records": payloads})
}

type treeNodePayload struct {
	RecordID string            `json:"record_id"`
	Depth    int               `json:"depth"`
	Position int               `json:"position"`
	Fields   map[string]any    `json:"fields"`
	Children []treeNodePayload `json:"children"`
}

func treeToPayload(forest []hierarchy.TreeNode) []treeNodePayload {
	payloads := make([]treeNodePayload, 0, len(forest))
	for _, node := range forest {
		payloads = append(payloads, treeNodePayload{
			RecordID: node.ID,
			Depth:    node.Depth,
			Position: node.Order,
			Fields:   node.Payload,
			Children: treeToPayload(node.Children),
		})
	}
	return payloads
}

func (h *httpHandler) handleCollectionTree(c *gin.Context) {
	kind, err := content.NewKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	records, err := h.service.ListRecords(c.Request.Context(), kind)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	forest := hierarchy.Build(content.FlatNodes(records), hierarchy.WithDanglingObserver(func(node hierarchy.FlatNode) {
		h.logger.Warn("dropping node with dangling parent reference",
			zap.String("kind", kind.String()),
			zap.String("record_id", node.ID),
			zap.String("parent_id", node.ParentID))
	}))
	c.JSON(http.StatusOK, gin.H{"roots": treeToPayload(forest)})
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	recordID, err := content.ValidateRecordID(c.Param("record_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_id"})
		return
	}
	if err := h.service.DeleteRecord(c.Request.Context(), recordID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.feed.Publish(FeedEvent{
		EventType: FeedEventRecordDeleted,
		RecordIDs: []string{recordID},
		Timestamp: h.clock().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"deleted": recordID})
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	setID := c.Param("set_id")
	members, err := h.service.ListMembers(c.Request.Context(), setID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type replaceMembersPayload struct {
	Desired []string `json:"desired"`
}

type membershipResultPayload struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Failed  []string `json:"failed"`
}

func outcomeToPayload(outcome membership.Outcome) membershipResultPayload {
	result := membershipResultPayload{Added: []string{}, Removed: []string{}, Failed: []string{}}
	for _, change := range outcome.Applied {
		if change.Kind == membership.ChangeKindAdd {
			result.Added = append(result.Added, change.MemberID)
		} else {
			result.Removed = append(result.Removed, change.MemberID)
		}
	}
	for _, change := range outcome.Failed {
		result.Failed = append(result.Failed, change.MemberID)
	}
	return result
}

func (h *httpHandler) handleReplaceMembers(c *gin.Context) {
	setID := c.Param("set_id")
	var request replaceMembersPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Desired == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	existing, err := h.service.ListMembers(c.Request.Context(), setID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	plan := membership.Reconcile(existing, request.Desired)
	outcome, applyErr := membership.Apply(c.Request.Context(), h.service, setID, plan, h.logger)
	result := outcomeToPayload(outcome)

	if len(outcome.Applied) > 0 {
		h.feed.Publish(FeedEvent{
			EventType: FeedEventMembersChanged,
			RecordIDs: []string{setID},
			Timestamp: h.clock().UTC(),
		})
	}

	if applyErr != nil {
		var partial *membership.PartialError
		if errors.As(applyErr, &partial) {
			c.JSON(http.StatusMultiStatus, gin.H{
				"error":     "membership_partial",
				"message":   partial.Error(),
				"succeeded": partial.Succeeded,
				"total":     partial.Total,
				"result":    result,
			})
			return
		}
		h.respondServiceError(c, applyErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type panelOpenPayload struct {
	Mode     string `json:"mode"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id"`
}

func (h *httpHandler) handlePanelOpen(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}

	var request panelOpenPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := content.NewKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	switch panel.Mode(request.Mode) {
	case panel.ModeCreate:
		controller.OpenCreate(kind.String())
	case panel.ModeEdit:
		record, err := h.service.GetRecord(c.Request.Context(), request.RecordID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		fields, err := content.DraftFields(record)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		if err := controller.OpenEdit(c.Request.Context(), panel.EditSeed{
			ID:             record.RecordID,
			Kind:           record.Kind,
			Fields:         fields,
			WithMembership: record.Kind == content.KindAlbum.String(),
		}); err != nil {
			h.respondServiceError(c, err)
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode"})
		return
	}

	h.respondPanelState(c, controller)
}

func (h *httpHandler) handlePanelState(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}
	h.respondPanelState(c, controller)
}

type panelFieldPayload struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (h *httpHandler) handlePanelField(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}
	var request panelFieldPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := controller.SetField(request.Field, request.Value); err != nil {
		h.respondPanelError(c, err)
		return
	}
	h.respondPanelState(c, controller)
}

func (h *httpHandler) handlePanelReset(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}
	if err := controller.Reset(); err != nil {
		h.respondPanelError(c, err)
		return
	}
	h.respondPanelState(c, controller)
}

func (h *httpHandler) handlePanelClose(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}
	if err := controller.Close(); err != nil {
		h.respondPanelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(controller.CurrentStatus())})
}

type panelSubmitPayload struct {
	DesiredMembers []string `json:"desired_members"`
}

func (h *httpHandler) handlePanelSubmit(c *gin.Context) {
	controller, ok := h.controllerForRequest(c)
	if !ok {
		return
	}

	var request panelSubmitPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	if request.DesiredMembers != nil {
		if err := controller.SetSelection(request.DesiredMembers); err != nil {
			h.respondPanelError(c, err)
			return
		}
	}

	result, err := controller.Submit(c.Request.Context())
	if err != nil {
		var partial *membership.PartialError
		if errors.As(err, &partial) {
			c.JSON(http.StatusMultiStatus, gin.H{
				"error":      "membership_partial",
				"message":    partial.Error(),
				"record_id":  result.Record.ID,
				"membership": outcomeToPayload(result.Membership),
			})
			return
		}
		h.respondPanelError(c, err)
		return
	}

	h.feed.Publish(FeedEvent{
		EventType: FeedEventRecordSaved,
		Kind:      result.Record.Kind,
		RecordIDs: []string{result.Record.ID},
		Timestamp: h.clock().UTC(),
	})

	c.JSON(http.StatusOK, gin.H{
		"record_id":  result.Record.ID,
		"kind":       result.Record.Kind,
		"fields":     result.Record.Fields,
		"membership": outcomeToPayload(result.Membership),
	})
}

type feedEventPayload struct {
	EventType  string   `json:"event_type"`
	Kind       string   `json:"kind,omitempty"`
	RecordIDs  []string `json:"record_ids"`
	OccurredAt int64    `json:"occurred_at_s"`
}

// handleEvents long-polls the change feed: it returns as soon as one event
// arrives, or an empty list when the wait times out.
func (h *httpHandler) handleEvents(c *gin.Context) {
	waitSeconds := defaultEventWaitSeconds
	if raw := c.Query("timeout_s"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timeout"})
			return
		}
		waitSeconds = parsed
	}

	stream, cancel := h.feed.Subscribe(c.Request.Context())
	defer cancel()

	timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
	defer timer.Stop()

	events := make([]feedEventPayload, 0, 1)
	select {
	case event := <-stream:
		events = append(events, feedEventPayload{
			EventType:  event.EventType,
			Kind:       event.Kind,
			RecordIDs:  event.RecordIDs,
			OccurredAt: event.Timestamp.Unix(),
		})
	drain:
		for {
			select {
			case extra := <-stream:
				events = append(events, feedEventPayload{
					EventType:  extra.EventType,
					Kind:       extra.Kind,
					RecordIDs:  extra.RecordIDs,
					OccurredAt: extra.Timestamp.Unix(),
				})
			default:
				break drain
			}
		}
	case <-timer.C:
	case <-c.Request.Context().Done():
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) controllerForRequest(c *gin.Context) (*panel.Controller, bool) {
	subject := c.GetString(adminSubjectContextKey)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	controller, err := h.sessions.controllerFor(subject)
	if err != nil {
		h.logger.Error("failed to build panel controller", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
		return nil, false
	}
	return controller, true
}

func (h *httpHandler) respondPanelState(c *gin.Context, controller *panel.Controller) {
	mode, activeID, open := controller.ActivePanel()
	if !open {
		c.JSON(http.StatusOK, gin.H{"status": string(panel.StatusClosed)})
		return
	}
	fields, err := controller.Draft()
	if err != nil {
		h.respondPanelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        string(panel.StatusOpen),
		"mode":          string(mode),
		"record_id":     activeID,
		"fields":        fields,
		"is_submitting": controller.IsSubmitting(),
	})
}

func (h *httpHandler) respondPanelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, panel.ErrNoActivePanel):
		c.JSON(http.StatusConflict, gin.H{"error": "no_active_panel"})
	case errors.Is(err, panel.ErrSubmitInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "submit_in_flight"})
	case errors.Is(err, panel.ErrMembershipUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "membership_unavailable"})
	default:
		h.respondServiceError(c, err)
	}
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *content.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		if errors.Is(err, content.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "request_failed", "code": serviceErr.Code()})
		return
	}
	if errors.Is(err, content.ErrInvalidKind) || errors.Is(err, content.ErrInvalidRecordID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request_failed"})
}
