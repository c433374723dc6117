package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/internal/unlock"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
	"github.com/d60-Lab/postcard-capsule/pkg/monitor"
)

var geoUnlocks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "postcard",
	Name:      "geo_unlocks_total",
	Help:      "Postcards unlocked by a recipient location check.",
})

// GeoUnlock 本次位置上报解锁的一张明信片
type GeoUnlock struct {
	ID             string  `json:"id"`
	SenderID       string  `json:"sender_id"`
	SenderName     string  `json:"sender_name"`
	DistanceMeters float64 `json:"distance_meters"`
}

// GeoLockChecker 根据收件人上报的位置解锁地理锁明信片
type GeoLockChecker struct {
	repo     repository.PostcardRepository
	users    UserDirectory
	unlocker unlocker
	now      func() time.Time
}

func NewGeoLockChecker(repo repository.PostcardRepository, users UserDirectory, notifier Notifier, opts ...Option) *GeoLockChecker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	o := buildOptions(opts)
	return &GeoLockChecker{
		repo:     repo,
		users:    users,
		unlocker: unlocker{repo: repo, notifier: notifier},
		now:      o.now,
	}
}

// CheckAndUnlock 只扫描 userID 作为收件人的地理锁明信片；返回本次调用解锁的记录。
func (c *GeoLockChecker) CheckAndUnlock(ctx context.Context, userID string, lat, lon float64) ([]GeoUnlock, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || !unlock.ValidCoordinates(lat, lon) {
		return nil, ErrInvalidLocation
	}

	ctx, span := tracer.Start(ctx, "GeoLockChecker.CheckAndUnlock")
	defer span.End()

	cards, err := c.repo.FindByStatus(ctx, model.PostcardStatusLocked, repository.StatusFilter{
		RecipientID: userID,
		GeoOnly:     true,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query geo-locked postcards: %w", err)
	}

	now := c.now()
	unlocked := make([]GeoUnlock, 0)
	for _, p := range cards {
		d := unlock.DistanceMeters(lat, lon, *p.UnlockLatitude, *p.UnlockLongitude)
		if !unlock.WithinRadius(d, p.UnlockRadius) {
			continue
		}
		ok, err := c.unlocker.unlock(ctx, p, now, "geo")
		if err != nil {
			logger.Warn("geo unlock failed", zap.String("postcard_id", p.ID), zap.Error(err))
			monitor.CaptureError(err, map[string]string{"component": "geo_checker", "postcard_id": p.ID})
			continue
		}
		if !ok {
			continue
		}
		geoUnlocks.Inc()
		unlocked = append(unlocked, GeoUnlock{ID: p.ID, SenderID: p.SenderID, DistanceMeters: d})
	}
	span.SetAttributes(
		attribute.Int("geo.candidates", len(cards)),
		attribute.Int("geo.unlocked", len(unlocked)),
	)
	if len(unlocked) == 0 {
		return unlocked, nil
	}

	ids := make([]string, len(unlocked))
	for i, u := range unlocked {
		ids[i] = u.SenderID
	}
	infos, err := c.users.DisplayInfos(ctx, ids)
	if err != nil {
		logger.Warn("load sender names failed", zap.String("user_id", userID), zap.Error(err))
	}
	for i := range unlocked {
		if info, ok := infos[unlocked[i].SenderID]; ok {
			unlocked[i].SenderName = info.Name
		}
	}
	return unlocked, nil
}
