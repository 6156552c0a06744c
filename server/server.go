package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/config"
)

// New builds the HTTP surface over a Service. Every route is GET only;
// the /api routes and their legacy aliases share handlers.
func New(svc *trips.Service, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(RequestID(), Logger(), gin.Recovery(), cors.New(corsConfig(cfg.AllowedOrigins)))

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Printf("[HTTP] warning: failed to set trusted proxies: %v", err)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, errors.New("route not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		respondError(c, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	h := &handlers{svc: svc}

	api := r.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/random-trip-id", h.randomTripID)
		api.GET("/demand-forecast", h.demandForecast)
		api.GET("/trips", h.listTrips)
		api.GET("/trips/:id", h.tripByID)
		api.GET("/hotzones", h.hotZones)
		api.GET("/simulate-trip", h.simulateTrip)
	}

	// legacy paths
	r.GET("/health", h.health)
	r.GET("/random_trip_id", h.randomTripID)
	r.GET("/demand_forecast", h.demandForecast)
	r.GET("/hotzones", h.hotZones)
	r.GET("/simulate_trip", h.simulateTrip)
	r.GET("/trip/:id", h.tripByID)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
