// Package server exposes the operational HTTP surface: health and
// stats endpoints plus the engagement tracking endpoints referenced
// from generated email content.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"lettercast/internal/cache"
	"lettercast/internal/common/logging"
	"lettercast/internal/delivery"
	"lettercast/internal/invalidation"
	"lettercast/internal/mailer"
	"lettercast/internal/models"
	"lettercast/internal/redis"
	"lettercast/internal/storage"
	"lettercast/internal/tracker"
)

// transparent 1x1 GIF served from the open-tracking pixel endpoint
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Server wires the HTTP handlers to the delivery subsystem.
type Server struct {
	redis     *redis.Manager
	cache     *cache.Manager
	queue     *delivery.Queue
	tracker   *tracker.Tracker
	store     storage.Store
	tokens    *mailer.TokenIssuer
	generator *mailer.ContentGenerator
	policy    *invalidation.Policy
	origin    *url.URL
	logger    logging.Logger
}

// Deps carries the collaborators the server exposes over HTTP. BaseURL
// is the public origin; click redirects are restricted to it.
type Deps struct {
	Redis     *redis.Manager
	Cache     *cache.Manager
	Queue     *delivery.Queue
	Tracker   *tracker.Tracker
	Store     storage.Store
	Tokens    *mailer.TokenIssuer
	Generator *mailer.ContentGenerator
	Policy    *invalidation.Policy
	BaseURL   string
	Logger    logging.Logger
}

// New creates the server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	var origin *url.URL
	if deps.BaseURL != "" {
		if u, err := url.Parse(deps.BaseURL); err == nil && u.Host != "" {
			origin = u
		}
	}
	return &Server{
		redis:     deps.Redis,
		cache:     deps.Cache,
		queue:     deps.Queue,
		tracker:   deps.Tracker,
		store:     deps.Store,
		tokens:    deps.Tokens,
		generator: deps.Generator,
		policy:    deps.Policy,
		origin:    origin,
		logger:    logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")
	api.HandleFunc("/queue/completed", s.handleClearCompleted).Methods("DELETE")
	api.HandleFunc("/newsletters/{id}/send", s.handleSendNewsletter).Methods("POST")
	api.HandleFunc("/newsletters/{id}/delivery", s.handleDeliveryStats).Methods("GET")

	router.HandleFunc("/t/open/{id}/{address}", s.handleTrackOpen).Methods("GET")
	router.HandleFunc("/t/click/{id}/{address}", s.handleTrackClick).Methods("GET")
	router.HandleFunc("/unsubscribe", s.handleUnsubscribe).Methods("GET")

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeHealthy := s.store.Health(ctx) == nil
	redisHealth := s.redis.Health()

	status := http.StatusOK
	if !storeHealthy {
		// the remote cache being down is degraded, not unhealthy;
		// the store being down is fatal for tracking
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   map[bool]string{true: "ok", false: "unavailable"}[storeHealthy],
		"database": storeHealthy,
		"redis":    redisHealth,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := s.queue.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// sendRequest is the body of the send trigger: the published newsletter
// plus its recipient list, as resolved by the content layer.
type sendRequest struct {
	Newsletter models.Newsletter  `json:"newsletter"`
	Recipients []models.Recipient `json:"recipients"`
}

func (s *Server) handleSendNewsletter(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Newsletter.ID = mux.Vars(r)["id"]
	if len(req.Recipients) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one recipient is required"})
		return
	}

	// unsubscribed and bounced subscribers never get another send
	eligible := make([]models.Recipient, 0, len(req.Recipients))
	skipped := 0
	for _, rcpt := range req.Recipients {
		status, err := s.store.GetSubscriberStatus(r.Context(), rcpt.Address)
		if err == nil && (status == models.SubscriberUnsubscribed || status == models.SubscriberBounced) {
			skipped++
			continue
		}
		eligible = append(eligible, rcpt)
	}

	enqueued := s.queue.Enqueue(r.Context(), &req.Newsletter, eligible, s.generator.Generate)

	go func() {
		if err := s.queue.Process(context.Background(), delivery.Options{}); err != nil {
			s.logger.Warn("Delivery run not started",
				logging.Field{Key: "newsletter_id", Value: req.Newsletter.ID},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}()

	s.logger.Info("Delivery triggered",
		logging.Field{Key: "newsletter_id", Value: req.Newsletter.ID},
		logging.Field{Key: "enqueued", Value: enqueued},
		logging.Field{Key: "skipped", Value: skipped},
	)
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": enqueued, "skipped": skipped})
}

func (s *Server) handleDeliveryStats(w http.ResponseWriter, r *http.Request) {
	newsletterID := mux.Vars(r)["id"]

	stats, err := s.tracker.GetStats(r.Context(), newsletterID)
	if err != nil {
		s.logger.Error("Failed to load delivery stats", err,
			logging.Field{Key: "newsletter_id", Value: newsletterID},
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load delivery stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.tracker.TrackOpen(r.Context(), vars["id"], vars["address"])

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(trackingPixel)
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.tracker.TrackClick(r.Context(), vars["id"], vars["address"])

	target := r.URL.Query().Get("url")
	if !s.safeRedirectTarget(target) {
		http.Error(w, "invalid redirect target", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		http.Error(w, "invalid or expired unsubscribe link", http.StatusBadRequest)
		return
	}

	if err := s.store.SetSubscriberStatus(r.Context(), claims.Address, models.SubscriberUnsubscribed); err != nil {
		s.logger.Error("Failed to unsubscribe", err,
			logging.Field{Key: "address", Value: claims.Address},
		)
		http.Error(w, "failed to unsubscribe, please try again", http.StatusInternalServerError)
		return
	}

	if s.policy != nil {
		s.policy.InvalidateSubscriber(r.Context(), claims.SubscriberID, claims.Address)
	}

	s.logger.Info("Subscriber unsubscribed",
		logging.Field{Key: "address", Value: claims.Address},
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<html><body><h1>You have been unsubscribed.</h1><p>You will no longer receive this newsletter.</p></body></html>"))
}

// safeRedirectTarget rejects non-http(s) and scheme-relative targets,
// and pins the host to the configured public origin, so the click
// redirect cannot be abused as an open redirector.
func (s *Server) safeRedirectTarget(target string) bool {
	if target == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if s.origin != nil && !strings.EqualFold(u.Host, s.origin.Host) {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
