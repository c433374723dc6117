// Package unlock 明信片解锁规则（纯函数）：条件校验、球面距离与读取时的内容可见性
package unlock

import (
	"errors"
	"time"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

var (
	ErrInvalidUnlockCondition = errors.New("exactly one unlock condition is required: an unlock date or a latitude/longitude pair")
	ErrUnlockDateTooSoon      = errors.New("unlock date must be after tomorrow at midnight")
	ErrUnlockDateTooFar       = errors.New("unlock date must be within one year")
	ErrInvalidRadius          = errors.New("unlock radius must be between 10 and 1000 meters")
)

const (
	MinRadius = 10.0
	MaxRadius = 1000.0
)

// Kind 解锁方式
type Kind int

const (
	KindTime Kind = iota + 1
	KindGeo
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindGeo:
		return "geo"
	default:
		return "unknown"
	}
}

// Request 创建请求里的解锁部分，字段均可选
type Request struct {
	UnlockDate      *time.Time
	UnlockLatitude  *float64
	UnlockLongitude *float64
	UnlockRadius    *float64
}

// Condition 校验通过的解锁条件，只设置 Kind 对应的字段
type Condition struct {
	Kind      Kind
	Date      time.Time
	Latitude  float64
	Longitude float64
	Radius    float64
}

// Validate 以 now 为准校验解锁条件；"明天零点"按 now 所在时区计算
func Validate(req Request, now time.Time) (Condition, error) {
	hasDate := req.UnlockDate != nil
	hasGeo := req.UnlockLatitude != nil && req.UnlockLongitude != nil

	if hasDate == hasGeo {
		return Condition{}, ErrInvalidUnlockCondition
	}

	if hasDate {
		date := *req.UnlockDate
		if date.Before(TomorrowMidnight(now)) {
			return Condition{}, ErrUnlockDateTooSoon
		}
		if date.After(now.AddDate(1, 0, 0)) {
			return Condition{}, ErrUnlockDateTooFar
		}
		return Condition{Kind: KindTime, Date: date}, nil
	}

	lat, lon := *req.UnlockLatitude, *req.UnlockLongitude
	if !ValidCoordinates(lat, lon) {
		return Condition{}, ErrInvalidUnlockCondition
	}
	radius, err := ResolveRadius(req.UnlockRadius)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Kind: KindGeo, Latitude: lat, Longitude: lon, Radius: radius}, nil
}

// TomorrowMidnight now 所在时区的次日 00:00
func TomorrowMidnight(now time.Time) time.Time {
	y, m, d := now.AddDate(0, 0, 1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// ResolveRadius 填充默认半径并校验 [10, 1000] 范围
func ResolveRadius(radius *float64) (float64, error) {
	if radius == nil {
		return model.DefaultUnlockRadius, nil
	}
	if *radius < MinRadius || *radius > MaxRadius {
		return 0, ErrInvalidRadius
	}
	return *radius, nil
}

func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Apply 把条件写入 p，并清空另一类型的字段
func (c Condition) Apply(p *model.Postcard) {
	switch c.Kind {
	case KindTime:
		date := c.Date.UTC()
		p.UnlockDate = &date
		p.UnlockLatitude, p.UnlockLongitude = nil, nil
		p.UnlockRadius = model.DefaultUnlockRadius
	case KindGeo:
		lat, lon := c.Latitude, c.Longitude
		p.UnlockDate = nil
		p.UnlockLatitude, p.UnlockLongitude = &lat, &lon
		p.UnlockRadius = c.Radius
	}
}

// RequestFrom 从草稿还原解锁请求
func RequestFrom(p *model.Postcard) Request {
	radius := p.UnlockRadius
	return Request{
		UnlockDate:      p.UnlockDate,
		UnlockLatitude:  p.UnlockLatitude,
		UnlockLongitude: p.UnlockLongitude,
		UnlockRadius:    &radius,
	}
}
