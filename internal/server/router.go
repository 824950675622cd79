package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/aibridge"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/session"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const fallbackTripID trips.TripID = "lucky-trip"

var (
	errMissingSessions  = errors.New("session registry dependency required")
	errMissingDocuments = errors.New("documents service dependency required")
	errPlaceNotFound    = errors.New("place not found")
)

type Dependencies struct {
	Sessions      *session.Registry
	Documents     *documents.Service
	Bridge        *aibridge.Bridge
	Rates         trips.RateTable
	HomeCurrency  trips.CurrencyCode
	ShareBaseURL  string
	DefaultTripID trips.TripID
	NewTripID     func() (trips.TripID, error)
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Documents == nil {
		return nil, errMissingDocuments
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge := deps.Bridge
	if bridge == nil {
		bridge = aibridge.New(aibridge.Config{Logger: logger})
	}
	rates := deps.Rates
	if rates == nil {
		rates = trips.DefaultRates()
	}
	homeCurrency := deps.HomeCurrency
	if homeCurrency == "" {
		homeCurrency = trips.CurrencyKRW
	}
	newTripID := deps.NewTripID
	if newTripID == nil {
		newTripID = trips.GenerateTripID
	}
	defaultTripID := deps.DefaultTripID
	if defaultTripID == "" {
		defaultTripID = fallbackTripID
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:      deps.Sessions,
		documents:     deps.Documents,
		bridge:        bridge,
		rates:         rates,
		homeCurrency:  homeCurrency,
		shareBaseURL:  deps.ShareBaseURL,
		defaultTripID: defaultTripID,
		newTripID:     newTripID,
		logger:        logger,
	}

	router.GET("/exchange-rate", handler.handleExchangeRate)
	router.GET("/default-trip", handler.handleDefaultTrip)
	router.POST("/trips", handler.handleCreateTrip)

	trip := router.Group("/trips/:tripId")
	trip.GET("", handler.handleGetTrip)
	trip.GET("/stream", handler.handleStream)
	trip.POST("/launch", handler.handleLaunch)
	trip.POST("/days", handler.handleAddDay)
	trip.PUT("/days/:day/title", handler.handleSetDayTitle)
	trip.POST("/days/:day/suggestions", handler.handleSuggestions)
	trip.PUT("/settings", handler.handleSetSettings)
	trip.POST("/places", handler.handleAddPlace)
	trip.PATCH("/places/:placeId", handler.handleUpdatePlace)
	trip.DELETE("/places/:placeId", handler.handleRemovePlace)
	trip.POST("/places/:placeId/visited", handler.handleToggleVisited)
	trip.POST("/places/:placeId/day", handler.handleMoveToDay)
	trip.POST("/places/:placeId/photos", handler.handleAddPhoto)
	trip.DELETE("/places/:placeId/photos/:index", handler.handleRemovePhoto)
	trip.POST("/places/:placeId/translate", handler.handleTranslate)
	trip.GET("/places/:placeId/tip", handler.handleQuickTip)
	trip.POST("/reorder", handler.handleReorder)
	trip.GET("/receipt", handler.handleReceipt)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	sessions      *session.Registry
	documents     *documents.Service
	bridge        *aibridge.Bridge
	rates         trips.RateTable
	homeCurrency  trips.CurrencyCode
	shareBaseURL  string
	defaultTripID trips.TripID
	newTripID     func() (trips.TripID, error)
	logger        *zap.Logger
}

type launchRequestPayload struct {
	Destination string `json:"destination" binding:"required"`
	Duration    int    `json:"duration"`
}

type dayTitleRequestPayload struct {
	Title string `json:"title"`
}

type settingsRequestPayload struct {
	Home   string `json:"home"`
	Target string `json:"target"`
}

type addPlaceRequestPayload struct {
	Day         int    `json:"day" binding:"required,gte=1"`
	Text        string `json:"text"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Transport   string `json:"transport"`
	Cost        string `json:"cost"`
}

type updatePlaceRequestPayload struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

type moveDayRequestPayload struct {
	Day int `json:"day" binding:"required,gte=1"`
}

type photoRequestPayload struct {
	Reference string `json:"reference" binding:"required"`
}

type translateRequestPayload struct {
	TargetLanguage string `json:"target_language"`
}

type reorderRequestPayload struct {
	MovedID  string `json:"moved_id" binding:"required"`
	TargetID string `json:"target_id" binding:"required"`
}

type tripResponsePayload struct {
	TripID   string         `json:"trip_id"`
	ShareURL string         `json:"share_url"`
	Launched bool           `json:"launched"`
	Progress float64        `json:"progress"`
	Snapshot trips.Snapshot `json:"snapshot"`
}

type placeResponsePayload struct {
	Place trips.Place         `json:"place"`
	Trip  tripResponsePayload `json:"trip"`
}

type suggestionsResponsePayload struct {
	Added []trips.Place       `json:"added"`
	Trip  tripResponsePayload `json:"trip"`
}

type receiptResponsePayload struct {
	Live    bool          `json:"live"`
	Receipt trips.Receipt `json:"receipt"`
}

type exchangeRateResponsePayload struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Rate     float64 `json:"rate"`
	Fallback bool    `json:"fallback"`
}

func (h *httpHandler) handleCreateTrip(c *gin.Context) {
	var request launchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Destination) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	tripID, err := h.newTripID()
	if err != nil {
		h.logger.Error("failed to generate trip id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trip_id_failed"})
		return
	}
	tripSession, err := h.sessions.Get(c.Request.Context(), tripID)
	if err != nil {
		h.respondError(c, "create_trip", err)
		return
	}
	state, err := tripSession.Launch(request.Destination, request.Duration)
	if err != nil {
		h.respondError(c, "create_trip", err)
		return
	}
	c.JSON(http.StatusCreated, h.tripPayload(tripID, state))
}

// handleDefaultTrip serves the trip opened when a client has no trip id of its own.
func (h *httpHandler) handleDefaultTrip(c *gin.Context) {
	tripSession, err := h.sessions.Get(c.Request.Context(), h.defaultTripID)
	if err != nil {
		h.respondError(c, "open_session", err)
		return
	}
	c.JSON(http.StatusOK, h.tripPayload(tripSession.TripID(), tripSession.State()))
}

func (h *httpHandler) handleGetTrip(c *gin.Context) {
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.tripPayload(tripSession.TripID(), tripSession.State()))
}

func (h *httpHandler) handleLaunch(c *gin.Context) {
	var request launchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Destination) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.mutate(c, "launch", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.Launch(request.Destination, request.Duration)
	})
}

func (h *httpHandler) handleAddDay(c *gin.Context) {
	h.mutate(c, "add_day", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.AddDay()
	})
}

func (h *httpHandler) handleSetDayTitle(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	var request dayTitleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.mutate(c, "set_day_title", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.SetDayTitle(day, request.Title)
	})
}

func (h *httpHandler) handleSetSettings(c *gin.Context) {
	var request settingsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.mutate(c, "set_settings", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.SetSettings(trips.Settings{
			Home:   strings.TrimSpace(request.Home),
			Target: strings.TrimSpace(request.Target),
		})
	})
}

// handleAddPlace adds a place from explicit fields or, when only free text is
// given, from whatever the AI bridge extracts. Extraction failures still add
// the place under its fallback name.
func (h *httpHandler) handleAddPlace(c *gin.Context) {
	var request addPlaceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tripSession, ok := h.session(c)
	if !ok {
		return
	}

	fields := trips.PlaceFields{
		Name:        request.Name,
		Category:    request.Category,
		Description: request.Description,
		Transport:   request.Transport,
		Cost:        request.Cost,
	}
	if strings.TrimSpace(request.Name) == "" && strings.TrimSpace(request.Text) != "" {
		extracted, err := h.bridge.ExtractPlace(c.Request.Context(), request.Text)
		if err != nil {
			h.logger.Warn("place extraction fell back",
				zap.String("trip_id", tripSession.TripID().String()),
				zap.Error(err))
		}
		fields = extracted
	}

	state, place, err := tripSession.Add(request.Day, fields)
	if err != nil {
		h.respondError(c, "add_place", err)
		return
	}
	c.JSON(http.StatusCreated, placeResponsePayload{
		Place: place,
		Trip:  h.tripPayload(tripSession.TripID(), state),
	})
}

func (h *httpHandler) handleUpdatePlace(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	var request updatePlaceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	field, err := trips.ParsePlaceField(request.Field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_field"})
		return
	}
	h.mutate(c, "update_place", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.Update(placeID, field, request.Value)
	})
}

func (h *httpHandler) handleToggleVisited(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	h.mutate(c, "toggle_visited", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.ToggleVisited(placeID)
	})
}

func (h *httpHandler) handleRemovePlace(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	h.mutate(c, "remove_place", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.Remove(placeID)
	})
}

func (h *httpHandler) handleMoveToDay(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	var request moveDayRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.mutate(c, "move_to_day", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.MoveToDay(placeID, request.Day)
	})
}

func (h *httpHandler) handleAddPhoto(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	var request photoRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Reference) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.mutate(c, "add_photo", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.AddPhoto(placeID, request.Reference)
	})
}

func (h *httpHandler) handleRemovePhoto(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_photo_index"})
		return
	}
	h.mutate(c, "remove_photo", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.RemovePhoto(placeID, index)
	})
}

// handleTranslate replaces a place description with its translation. A failed
// translation keeps the original text.
func (h *httpHandler) handleTranslate(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	var request translateRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	place, found := tripSession.State().Find(placeID)
	if !found {
		h.respondError(c, "translate", errPlaceNotFound)
		return
	}

	translated, err := h.bridge.Translate(c.Request.Context(), place.Description, request.TargetLanguage)
	if err != nil {
		h.logger.Warn("translation fell back",
			zap.String("place_id", placeID.String()),
			zap.Error(err))
	}
	state, err := tripSession.Update(placeID, trips.FieldDescription, translated)
	if err != nil {
		h.respondError(c, "translate", err)
		return
	}
	c.JSON(http.StatusOK, h.tripPayload(tripSession.TripID(), state))
}

func (h *httpHandler) handleQuickTip(c *gin.Context) {
	placeID, ok := placeParam(c)
	if !ok {
		return
	}
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	place, found := tripSession.State().Find(placeID)
	if !found {
		h.respondError(c, "quick_tip", errPlaceNotFound)
		return
	}
	tip, err := h.bridge.QuickTip(c.Request.Context(), place.Name)
	if err != nil {
		h.logger.Warn("quick tip fell back", zap.String("place_id", placeID.String()), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"place_id": placeID.String(), "tip": tip})
}

func (h *httpHandler) handleReorder(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	movedID, err := trips.NewPlaceID(request.MovedID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_place_id"})
		return
	}
	targetID, err := trips.NewPlaceID(request.TargetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_place_id"})
		return
	}
	h.mutate(c, "reorder", func(tripSession *session.Session) (trips.PlaceStore, error) {
		return tripSession.Reorder(movedID, targetID)
	})
}

func (h *httpHandler) handleSuggestions(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	meta, launched := tripSession.State().Meta()
	if !launched {
		h.respondError(c, "suggestions", trips.ErrNotLaunched)
		return
	}

	suggestions, err := h.bridge.SuggestItinerary(c.Request.Context(), meta.Destination, day)
	if err != nil {
		h.logger.Warn("itinerary suggestions fell back",
			zap.String("trip_id", tripSession.TripID().String()),
			zap.Error(err))
	}
	state, added, err := tripSession.AddSuggestions(day, suggestions)
	if err != nil {
		h.respondError(c, "suggestions", err)
		return
	}
	c.JSON(http.StatusOK, suggestionsResponsePayload{
		Added: added,
		Trip:  h.tripPayload(tripSession.TripID(), state),
	})
}

func (h *httpHandler) handleReceipt(c *gin.Context) {
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	live, _ := strconv.ParseBool(c.DefaultQuery("live", "false"))

	state := tripSession.State()
	places := state.Places()
	home := h.homeCurrency
	if settings, ok := state.Settings(); ok {
		if code, ok := trips.ParseCurrencyCode(settings.Home); ok {
			home = code
		}
	}
	rates := h.rates.Rebase(home)

	if live {
		liveRates, err := h.bridge.LiveRates(c.Request.Context(), home, currenciesOf(places), rates)
		if err != nil {
			h.logger.Warn("live rates fell back",
				zap.String("trip_id", tripSession.TripID().String()),
				zap.Error(err))
		}
		rates = liveRates
	}

	c.JSON(http.StatusOK, receiptResponsePayload{
		Live:    live,
		Receipt: trips.BuildReceipt(places, rates, home),
	})
}

func (h *httpHandler) handleExchangeRate(c *gin.Context) {
	from := strings.ToUpper(strings.TrimSpace(c.Query("from")))
	to := strings.ToUpper(strings.TrimSpace(c.Query("to")))
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	rate, err := h.bridge.ExchangeRate(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Warn("exchange rate fell back", zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
	c.JSON(http.StatusOK, exchangeRateResponsePayload{
		From:     from,
		To:       to,
		Rate:     rate.InexactFloat64(),
		Fallback: err != nil,
	})
}

func (h *httpHandler) mutate(c *gin.Context, operation string, apply func(*session.Session) (trips.PlaceStore, error)) {
	tripSession, ok := h.session(c)
	if !ok {
		return
	}
	state, err := apply(tripSession)
	if err != nil {
		h.respondError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, h.tripPayload(tripSession.TripID(), state))
}

func (h *httpHandler) session(c *gin.Context) (*session.Session, bool) {
	tripID, err := trips.NewTripID(c.Param("tripId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_trip_id"})
		return nil, false
	}
	tripSession, err := h.sessions.Get(c.Request.Context(), tripID)
	if err != nil {
		h.respondError(c, "open_session", err)
		return nil, false
	}
	return tripSession, true
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var serviceErr *documents.ServiceError
	switch {
	case errors.Is(err, trips.ErrNotLaunched):
		c.JSON(http.StatusConflict, gin.H{"error": "trip_not_launched"})
	case errors.Is(err, trips.ErrAlreadyLaunched):
		c.JSON(http.StatusConflict, gin.H{"error": "trip_already_launched"})
	case errors.Is(err, trips.ErrInvalidDay):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
	case errors.Is(err, trips.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_field"})
	case errors.Is(err, trips.ErrInvalidTripID), errors.Is(err, trips.ErrInvalidPlaceID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, errPlaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "place_not_found"})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_closed"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_unavailable"})
	case errors.As(err, &serviceErr):
		h.logger.Error("document store failure", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed", "code": serviceErr.Code()})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed"})
	}
}

func (h *httpHandler) tripPayload(tripID trips.TripID, state trips.PlaceStore) tripResponsePayload {
	return tripResponsePayload{
		TripID:   tripID.String(),
		ShareURL: ShareURL(h.shareBaseURL, tripID),
		Launched: state.Launched(),
		Progress: state.Progress(),
		Snapshot: state.Snapshot(),
	}
}

// ShareURL returns baseURL with the tripId query parameter set.
func ShareURL(baseURL string, tripID trips.TripID) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return "?tripId=" + url.QueryEscape(tripID.String())
	}
	query := parsed.Query()
	query.Set("tripId", tripID.String())
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func dayParam(c *gin.Context) (int, bool) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil || day < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return 0, false
	}
	return day, true
}

func placeParam(c *gin.Context) (trips.PlaceID, bool) {
	placeID, err := trips.NewPlaceID(c.Param("placeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_place_id"})
		return "", false
	}
	return placeID, true
}

func currenciesOf(places []trips.Place) []trips.CurrencyCode {
	seen := make(map[trips.CurrencyCode]bool)
	currencies := make([]trips.CurrencyCode, 0, len(places))
	for _, place := range places {
		code := trips.ParseCost(place.Cost).Currency
		if seen[code] {
			continue
		}
		seen[code] = true
		currencies = append(currencies, code)
	}
	return currencies
}
