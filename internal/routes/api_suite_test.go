package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/config"
	"github.com/smartpop/popup-analytics/internal/handler"
	"github.com/smartpop/popup-analytics/internal/middleware"
	"github.com/smartpop/popup-analytics/internal/migration"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/internal/service"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	suiteShop  = "shop.example"
	adminToken = "test-admin-token"
)

// APISuite drives the full HTTP surface over an in-memory database
type APISuite struct {
	suite.Suite
	db     *gorm.DB
	store  *cache.Store
	router *gin.Engine
	now    time.Time
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(migration.Run(db))
	s.db = db

	s.store = cache.NewStore(repository.NewCacheRepository(db))

	events := repository.NewEventRepository(db)
	journeys := repository.NewJourneyRepository(db)
	conversions := repository.NewConversionRepository(db)
	buckets := repository.NewAggregationRepository(db)
	behaviors := repository.NewBehaviorRepository(db)

	metrics := service.NewMetricsService(events, buckets, conversions, s.store)
	attribution := service.NewAttributionService(events, journeys, conversions, behaviors)
	aggregation := service.NewAggregationService(events, buckets, s.store, metrics, true)
	ingest := service.NewIngestService(events, attribution, aggregation, s.store, nil, service.DefaultIngestConfig)

	cfg := config.Default()
	cfg.Server.AdminToken = adminToken

	s.router = gin.New()
	s.router.Use(middleware.RequestLogger())
	Setup(s.router,
		handler.NewIngestHandler(ingest),
		handler.NewMetricsHandler(metrics, attribution),
		handler.NewAdminHandler(aggregation, s.store, nil),
		cfg,
		nil,
		nil,
	)

	// 실시간 창 안쪽
	s.now = time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Second)
}

func (s *APISuite) TearDownTest() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (s *APISuite) request(method, path string, body interface{}, headers ...string) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (s *APISuite) event(id, eventType string) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"visitor_id":  "visitor-" + id,
		"shop_domain": suiteShop,
		"event_type":  eventType,
		"popup_id":    "popup-1",
		"timestamp":   s.now.Format(time.RFC3339),
	}
}

func data(resp map[string]interface{}) map[string]interface{} {
	return resp["data"].(map[string]interface{})
}

func (s *APISuite) TestIngestThenDashboard() {
	var events []interface{}
	for i := 0; i < 10; i++ {
		events = append(events, s.event(fmt.Sprintf("v%d", i), "popup_shown"))
	}
	submit := s.event("v0-submit", "email_submitted")
	submit["visitor_id"] = "visitor-v0"
	submit["timestamp"] = s.now.Add(time.Minute).Format(time.RFC3339)
	events = append(events, submit)

	code, resp := s.request("POST", "/api/v1/events/ingest", map[string]interface{}{
		"events":             events,
		"processImmediately": true,
	})
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(11), data(resp)["processed"])
	s.Equal(true, data(resp)["metricsUpdated"])

	code, resp = s.request("GET", "/api/v1/shops/"+suiteShop+"/dashboard", nil)
	s.Require().Equal(http.StatusOK, code)
	totals := data(resp)["totals"].(map[string]interface{})
	s.Equal(float64(10), totals["views"])
	s.Equal(float64(1), totals["conversions"])
	s.Equal(float64(1), data(resp)["attributed_conversions"])

	code, resp = s.request("GET", "/api/v1/shops/"+suiteShop+"/realtime", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(11), data(resp)["events"])

	code, resp = s.request("GET", "/api/v1/shops/"+suiteShop+"/journeys", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Len(resp["data"], 10)

	// redelivery of the whole batch only counts duplicates
	code, resp = s.request("POST", "/api/v1/events/ingest", map[string]interface{}{"events": events})
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(0), data(resp)["processed"])
	s.Equal(float64(11), data(resp)["duplicates"])
}

func (s *APISuite) TestIngestRejectsInvalidBatch() {
	bad := s.event("e2", "hover")
	code, resp := s.request("POST", "/api/v1/events/ingest", map[string]interface{}{
		"events": []interface{}{s.event("e0", "popup_shown"), s.event("e1", "close"), bad},
	})
	s.Equal(http.StatusBadRequest, code)
	details := resp["error"].(map[string]interface{})["details"].(map[string]interface{})
	s.Equal(float64(2), details["index"])

	var count int64
	s.Require().NoError(s.db.Table("popup_events").Count(&count).Error)
	s.Equal(int64(0), count)
}

func (s *APISuite) TestWidgetAttribution() {
	body := map[string]interface{}{
		"id":          "widget-1",
		"visitor_id":  "visitor-w",
		"shop_domain": suiteShop,
		"event_type":  "view",
		"popup_id":    "popup-9",
		"timestamp":   s.now.UnixMilli(),
	}
	code, resp := s.request("POST", "/api/v1/events/attribution", body)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(true, data(resp)["success"])
	s.Equal("widget-1", data(resp)["eventId"])

	code, _ = s.request("POST", "/api/v1/events/attribution", body)
	s.Equal(http.StatusOK, code)
}

func (s *APISuite) TestAnalyticsTimeframe() {
	code, resp := s.request("GET", "/api/v1/shops/"+suiteShop+"/analytics?timeframe=30d", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Len(data(resp)["trend"], 30)
	s.Equal("30d", resp["meta"].(map[string]interface{})["timeframe"])

	code, _ = s.request("GET", "/api/v1/shops/"+suiteShop+"/analytics?timeframe=2w", nil)
	s.Equal(http.StatusBadRequest, code)
}

func (s *APISuite) TestAdminCacheMaintenance() {
	code, _ := s.request("GET", "/api/v1/shops/"+suiteShop+"/dashboard", nil)
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.request("GET", "/api/v1/admin/cache/stats", nil)
	s.Equal(http.StatusUnauthorized, code)

	code, resp := s.request("GET", "/api/v1/admin/cache/stats", nil, "Authorization", "Bearer "+adminToken)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(1), data(resp)["memory_size"])

	code, resp = s.request("DELETE", "/api/v1/admin/cache?pattern=prefix:dashboard:&shop="+suiteShop, nil, "X-Admin-Token", adminToken)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(1), data(resp)["removed"])

	var rows int64
	s.Require().NoError(s.db.Table("cache_storage").Count(&rows).Error)
	s.Equal(int64(0), rows)
}

func (s *APISuite) TestAdminRollupDay() {
	code, _ := s.request("POST", "/api/v1/events/ingest", map[string]interface{}{
		"events": []interface{}{s.event("d1", "popup_shown"), s.event("d2", "popup_shown")},
	})
	s.Require().Equal(http.StatusOK, code)

	code, resp := s.request("POST", "/api/v1/admin/rollup/day", map[string]string{
		"shop_domain": suiteShop,
		"at":          s.now.Format(time.RFC3339),
	}, "X-Admin-Token", adminToken)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(float64(1), data(resp)["buckets"])
	s.Equal("day", data(resp)["granularity"])
}
