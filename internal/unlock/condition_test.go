package unlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

var ict = time.FixedZone("ICT", 7*3600)

// 2026-10-15 14:30 local
var now = time.Date(2026, 10, 15, 14, 30, 0, 0, ict)

func ptr[T any](v T) *T { return &v }

func TestValidate_ExactlyOneCondition(t *testing.T) {
	date := now.AddDate(0, 0, 30)
	cases := []struct {
		name    string
		req     Request
		wantErr error
		kind    Kind
	}{
		{name: "nothing", req: Request{}, wantErr: ErrInvalidUnlockCondition},
		{name: "date only", req: Request{UnlockDate: &date}, kind: KindTime},
		{name: "geo only", req: Request{UnlockLatitude: ptr(10.0), UnlockLongitude: ptr(106.0)}, kind: KindGeo},
		{name: "date and geo", req: Request{UnlockDate: &date, UnlockLatitude: ptr(10.0), UnlockLongitude: ptr(106.0)}, wantErr: ErrInvalidUnlockCondition},
		{name: "latitude only", req: Request{UnlockLatitude: ptr(10.0)}, wantErr: ErrInvalidUnlockCondition},
		{name: "longitude only", req: Request{UnlockLongitude: ptr(106.0)}, wantErr: ErrInvalidUnlockCondition},
		{name: "date with half pair", req: Request{UnlockDate: &date, UnlockLongitude: ptr(106.0)}, kind: KindTime},
		{name: "radius alone", req: Request{UnlockRadius: ptr(100.0)}, wantErr: ErrInvalidUnlockCondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := Validate(tc.req, now)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, cond.Kind)
		})
	}
}

func TestValidate_DateBounds(t *testing.T) {
	midnight := time.Date(2026, 10, 16, 0, 0, 0, 0, ict)
	assert.Equal(t, midnight, TomorrowMidnight(now))

	cases := []struct {
		name    string
		date    time.Time
		wantErr error
	}{
		{"one second before tomorrow midnight", midnight.Add(-time.Second), ErrUnlockDateTooSoon},
		{"in an hour", now.Add(time.Hour), ErrUnlockDateTooSoon},
		{"in the past", now.AddDate(0, 0, -1), ErrUnlockDateTooSoon},
		{"tomorrow midnight", midnight, nil},
		{"thirty days", now.AddDate(0, 0, 30), nil},
		{"exactly one year", now.AddDate(1, 0, 0), nil},
		{"366 days", now.AddDate(0, 0, 366), ErrUnlockDateTooFar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			date := tc.date
			cond, err := Validate(Request{UnlockDate: &date}, now)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, cond.Date.Equal(date))
		})
	}
}

func TestValidate_MidnightUsesCallerLocation(t *testing.T) {
	// 23:30 UTC is already the next morning in ICT
	utcNow := time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)
	date := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	_, err := Validate(Request{UnlockDate: &date}, utcNow)
	assert.NoError(t, err)

	_, err = Validate(Request{UnlockDate: &date}, utcNow.In(ict))
	assert.ErrorIs(t, err, ErrUnlockDateTooSoon)
}

func TestValidate_Radius(t *testing.T) {
	geo := func(r *float64) Request {
		return Request{UnlockLatitude: ptr(10.762622), UnlockLongitude: ptr(106.660172), UnlockRadius: r}
	}

	cond, err := Validate(geo(nil), now)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultUnlockRadius, cond.Radius)

	for _, r := range []float64{10, 100, 1000} {
		cond, err := Validate(geo(ptr(r)), now)
		require.NoError(t, err)
		assert.Equal(t, r, cond.Radius)
	}
	for _, r := range []float64{0, 9.99, 1000.01, -50} {
		_, err := Validate(geo(ptr(r)), now)
		assert.ErrorIs(t, err, ErrInvalidRadius, "radius %v", r)
	}
}

func TestValidate_Coordinates(t *testing.T) {
	_, err := Validate(Request{UnlockLatitude: ptr(90.5), UnlockLongitude: ptr(0.0)}, now)
	assert.ErrorIs(t, err, ErrInvalidUnlockCondition)

	_, err = Validate(Request{UnlockLatitude: ptr(0.0), UnlockLongitude: ptr(-181.0)}, now)
	assert.ErrorIs(t, err, ErrInvalidUnlockCondition)
}

func TestCondition_Apply(t *testing.T) {
	p := &model.Postcard{UnlockLatitude: ptr(1.0), UnlockLongitude: ptr(2.0), UnlockRadius: 300}
	date := now.AddDate(0, 1, 0)
	Condition{Kind: KindTime, Date: date}.Apply(p)

	require.NotNil(t, p.UnlockDate)
	assert.Equal(t, time.UTC, p.UnlockDate.Location())
	assert.True(t, p.UnlockDate.Equal(date))
	assert.Nil(t, p.UnlockLatitude)
	assert.Nil(t, p.UnlockLongitude)
	assert.Equal(t, model.DefaultUnlockRadius, p.UnlockRadius)

	Condition{Kind: KindGeo, Latitude: 3, Longitude: 4, Radius: 20}.Apply(p)
	assert.Nil(t, p.UnlockDate)
	assert.Equal(t, 3.0, *p.UnlockLatitude)
	assert.Equal(t, 4.0, *p.UnlockLongitude)
	assert.Equal(t, 20.0, p.UnlockRadius)
}
