package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/postcard-capsule/config"
	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/internal/service"
	"github.com/d60-Lab/postcard-capsule/pkg/database"
)

// 本地压测：批量到期时间锁的扫描吞吐，以及地理锁检查的延迟分布
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	db, err := database.InitDB(cfg)
	if err != nil {
		panic(err)
	}
	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	COUNT := envInt("COUNT", 20000)
	BATCH := envInt("BATCH", cfg.Sweeper.BatchSize)
	USERS := envInt("USERS", 200)
	REPEAT := envInt("REPEAT", 200)

	ctx := context.Background()
	repo := repository.NewPostcardRepository(db)
	now := time.Now().UTC()

	// 准备数据：一半到期的时间锁，一半随机分布在巴黎附近的地理锁
	rows := make([]model.Postcard, 0, COUNT)
	for i := 0; i < COUNT; i++ {
		p := model.Postcard{
			ID:           uuid.NewString(),
			SenderID:     fmt.Sprintf("bench_sender_%d", i%USERS),
			RecipientID:  fmt.Sprintf("bench_user_%d", i%USERS),
			UnlockRadius: model.DefaultUnlockRadius,
			Status:       model.PostcardStatusLocked,
			CreatedAt:    now,
		}
		if i%2 == 0 {
			d := now.Add(-time.Duration(rand.Intn(3600)) * time.Second)
			p.UnlockDate = &d
		} else {
			lat := 48.80 + rand.Float64()*0.1
			lon := 2.25 + rand.Float64()*0.1
			p.UnlockLatitude, p.UnlockLongitude = &lat, &lon
			p.UnlockRadius = 100
		}
		rows = append(rows, p)
	}
	if err := db.CreateInBatches(rows, 500).Error; err != nil {
		panic(err)
	}
	fmt.Printf("seeded %d postcards for %d users\n", COUNT, USERS)

	sweeper := service.NewTimeLockSweeper(repo, nil, service.SweeperConfig{BatchSize: BATCH, Timeout: 10 * time.Minute})
	st := time.Now()
	res, err := sweeper.SweepOnce(ctx)
	if err != nil {
		panic(err)
	}
	el := time.Since(st)
	fmt.Printf("sweep: BATCH=%d scanned=%d unlocked=%d failed=%d in %v (%.0f rows/s)\n",
		BATCH, res.Scanned, res.Unlocked, res.Failed, el, float64(res.Unlocked)/el.Seconds())

	geo := service.NewGeoLockChecker(repo, noDirectory{}, nil)
	lat := make([]time.Duration, 0, REPEAT)
	unlocked := 0
	for i := 0; i < REPEAT; i++ {
		user := fmt.Sprintf("bench_user_%d", rand.Intn(USERS))
		st := time.Now()
		got, err := geo.CheckAndUnlock(ctx, user, 48.80+rand.Float64()*0.1, 2.25+rand.Float64()*0.1)
		if err != nil {
			panic(err)
		}
		lat = append(lat, time.Since(st))
		unlocked += len(got)
	}

	var sum time.Duration
	for _, d := range lat {
		sum += d
	}
	fmt.Printf("geo-check: REPEAT=%d unlocked=%d avg=%v p95=%v p99=%v\n",
		REPEAT, unlocked, sum/time.Duration(len(lat)), pct(lat, 0.95), pct(lat, 0.99))

	// 清理压测数据
	if err := db.Where("sender_id LIKE ?", "bench_sender_%").Delete(&model.Postcard{}).Error; err != nil {
		panic(err)
	}
}

// noDirectory 压测不关心寄件人展示名
type noDirectory struct{}

func (noDirectory) Exists(context.Context, string) (bool, error) { return true, nil }
func (noDirectory) DisplayInfo(context.Context, string) (model.UserInfo, error) {
	return model.UserInfo{}, nil
}
func (noDirectory) DisplayInfos(context.Context, []string) (map[string]model.UserInfo, error) {
	return nil, nil
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(float64(len(xs)) * p)
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}
