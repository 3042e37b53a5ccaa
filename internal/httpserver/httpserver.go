package httpserver

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clinicfront/internal/cart"
	"clinicfront/internal/catalog"
	"clinicfront/internal/model"
	"clinicfront/internal/notifier"
	"clinicfront/internal/timeslot"
	"clinicfront/internal/upstream"
)

// LabAPI is the slice of the upstream client the lab routes use.
type LabAPI interface {
	TimeSlots(ctx context.Context, date string) ([]string, error)
	LabBookings(ctx context.Context, token string) ([]model.LabBooking, error)
}

type HttpServer struct {
	http *http.Server
	log  *slog.Logger
}

type Opts struct {
	Addr     string
	Log      *slog.Logger
	Catalog  *catalog.Store
	Carts    *cart.Manager
	Lab      LabAPI
	Poller   *notifier.Poller
	Activity *notifier.Activity
	Now      func() time.Time
}

func NewHttpServer(opts Opts) *HttpServer {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// request id + access log
	r.Use(func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)

		start := time.Now()
		c.Next()
		opts.Log.Info("http",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
			"request_id", reqID,
		)
	})

	// healthz
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/medicines", func(c *gin.Context) {
		q := medicineQuery(c)
		force := c.Query("refresh") == "true"
		snap := opts.Catalog.Fetch(c.Request.Context(), q, force)
		c.JSON(http.StatusOK, snap)
	})

	api.GET("/medicines/categories", func(c *gin.Context) {
		force := c.Query("refresh") == "true"
		names := opts.Catalog.Categories(c.Request.Context(), force)
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"categories": names})
	})

	// cart routes need the caller's upstream token
	authed := api.Group("", func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		}
	})

	cartFor := func(c *gin.Context) *cart.Store {
		return opts.Carts.For(c.GetHeader("Authorization"))
	}

	authed.GET("/cart", func(c *gin.Context) {
		s := cartFor(c)
		if err := s.Refresh(c.Request.Context()); err != nil {
			opts.Log.Error("cart refresh failed", "err", err)
			c.JSON(upstreamStatus(err), gin.H{"error": "could not load cart"})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	type cartItemReq struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,min=1"`
	}

	authed.POST("/cart/add", func(c *gin.Context) {
		var req cartItemReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "productId and quantity >= 1 required"})
			return
		}
		s := cartFor(c)
		if err := s.Add(c.Request.Context(), req.ProductID, req.Quantity); err != nil {
			opts.Log.Error("cart add failed", "err", err, "product_id", req.ProductID)
			c.JSON(upstreamStatus(err), gin.H{"error": upstreamMessage(err)})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	authed.PUT("/cart/update", func(c *gin.Context) {
		var req cartItemReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "productId and quantity >= 1 required"})
			return
		}
		s := cartFor(c)
		if err := s.Update(c.Request.Context(), req.ProductID, req.Quantity); err != nil {
			opts.Log.Error("cart update failed", "err", err, "product_id", req.ProductID)
			c.JSON(upstreamStatus(err), gin.H{"error": upstreamMessage(err)})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	// optimistic local adjust: never touches the upstream
	authed.PATCH("/cart/quantity", func(c *gin.Context) {
		var req struct {
			ProductID string `json:"productId" binding:"required"`
			Direction int    `json:"direction" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || (req.Direction != 1 && req.Direction != -1) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "productId and direction of +1/-1 required"})
			return
		}
		s := cartFor(c)
		s.ApplyLocalDelta(req.ProductID, req.Direction)
		c.JSON(http.StatusOK, s.Snapshot())
	})

	authed.DELETE("/cart/remove/:productId", func(c *gin.Context) {
		s := cartFor(c)
		if err := s.Remove(c.Request.Context(), c.Param("productId")); err != nil {
			opts.Log.Error("cart remove failed", "err", err, "product_id", c.Param("productId"))
			c.JSON(upstreamStatus(err), gin.H{"error": upstreamMessage(err)})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	authed.DELETE("/cart/clear", func(c *gin.Context) {
		s := cartFor(c)
		if err := s.Clear(c.Request.Context()); err != nil {
			opts.Log.Error("cart clear failed", "err", err)
			c.JSON(upstreamStatus(err), gin.H{"error": upstreamMessage(err)})
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	api.GET("/lab-bookings/time-slots", func(c *gin.Context) {
		dateStr := c.Query("date")
		now := opts.Now()
		date, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		labels, err := opts.Lab.TimeSlots(c.Request.Context(), dateStr)
		if err != nil {
			opts.Log.Error("time slots fetch failed", "err", err, "date", dateStr)
			c.JSON(upstreamStatus(err), gin.H{"error": "could not load time slots"})
			return
		}
		type slotView struct {
			Label    string `json:"label"`
			Eligible bool   `json:"eligible"`
		}
		slots := make([]slotView, 0, len(labels))
		for _, l := range labels {
			slots = append(slots, slotView{Label: l, Eligible: timeslot.Eligible(l, date, now)})
		}
		c.JSON(http.StatusOK, gin.H{"date": dateStr, "availableSlots": slots})
	})

	authed.GET("/lab-bookings", func(c *gin.Context) {
		bookings, err := opts.Lab.LabBookings(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			opts.Log.Error("lab bookings fetch failed", "err", err)
			c.JSON(upstreamStatus(err), gin.H{"error": "could not load bookings"})
			return
		}
		now := opts.Now()
		type bookingView struct {
			model.LabBooking
			EffectiveStatus model.BookingStatus `json:"effectiveStatus"`
		}
		views := make([]bookingView, 0, len(bookings))
		for _, b := range bookings {
			views = append(views, bookingView{
				LabBooking:      b,
				EffectiveStatus: timeslot.EffectiveStatus(b, now),
			})
		}
		c.JSON(http.StatusOK, gin.H{"bookings": views})
	})

	api.GET("/notifications/unread-count", func(c *gin.Context) {
		if opts.Activity != nil {
			opts.Activity.Touch()
		}
		n, at := opts.Poller.Last()
		c.JSON(http.StatusOK, gin.H{"unreadCount": n, "fetchedAt": at})
	})

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &HttpServer{http: srv, log: opts.Log}
}

// medicineQuery maps list query params; malformed numbers count as
// unset rather than erroring, matching the catalog key rule.
func medicineQuery(c *gin.Context) model.MedicineQuery {
	q := model.MedicineQuery{
		Category:  c.Query("category"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
		Search:    c.Query("search"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		q.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		q.Limit = limit
	}
	if v, err := strconv.ParseFloat(c.Query("minPrice"), 64); err == nil && !math.IsNaN(v) {
		q.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(c.Query("maxPrice"), 64); err == nil && !math.IsNaN(v) {
		q.MaxPrice = &v
	}
	return q
}

func upstreamStatus(err error) int {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

func upstreamMessage(err error) string {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "upstream request failed"
}

func (s *HttpServer) Start() error {
	s.log.Info("start http server", "addr", s.http.Addr)

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("start http server failed", "err", err)
		}
	}()
	return nil
}

func (s *HttpServer) Stop(ctx context.Context) error {
	s.log.Info("stop http server", "addr", s.http.Addr)
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *HttpServer) Handler() http.Handler {
	return s.http.Handler
}
