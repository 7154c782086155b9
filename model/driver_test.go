package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestDriverExpiredDocuments(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		driver   Driver
		expected []DocumentType
	}{
		{
			name:     "沒有任何文件",
			driver:   Driver{},
			expected: nil,
		},
		{
			name: "全部在未來",
			driver: Driver{
				License:        License{Validity: ptr(now.Add(24 * time.Hour))},
				VehicleDetails: VehicleDetails{RCExpiryDate: ptr(now.Add(time.Hour))},
			},
			expected: nil,
		},
		{
			name: "剛好等於現在也算到期",
			driver: Driver{
				License: License{Validity: ptr(now)},
			},
			expected: []DocumentType{DocumentTypeLicense},
		},
		{
			name: "多份到期依固定順序",
			driver: Driver{
				License: License{Validity: ptr(now.Add(48 * time.Hour))},
				VehicleDetails: VehicleDetails{
					RCExpiryDate:        ptr(now.Add(-time.Hour)),
					InsuranceExpiryDate: ptr(now.Add(time.Hour)),
					PollutionExpiryDate: ptr(now.AddDate(0, 0, -30)),
				},
			},
			expected: []DocumentType{DocumentTypeRC, DocumentTypePollution},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.driver.ExpiredDocuments(now))
		})
	}
}

func TestStatsIncrementApply(t *testing.T) {
	stats := &DriverDailyStats{OnlineMinutes: 10}
	stats.Apply(StatsIncrement{
		StatsFieldOnlineMinutes:  5,
		StatsFieldCompletedRides: 1,
		StatsFieldEarnings:       2500,
	})

	assert.Equal(t, int64(15), stats.Get(StatsFieldOnlineMinutes))
	assert.Equal(t, int64(1), stats.Get(StatsFieldCompletedRides))
	assert.Equal(t, int64(0), stats.Get(StatsFieldCancelledRides))
	assert.Equal(t, int64(2500), stats.Get(StatsFieldEarnings))

	assert.True(t, StatsIncrement{}.IsZero())
	assert.True(t, StatsIncrement{StatsFieldOnlineMinutes: 0}.IsZero())
	assert.False(t, StatsIncrement{StatsFieldCancelledRides: 1}.IsZero())
}

func TestGeoPointValid(t *testing.T) {
	assert.True(t, GeoPoint{Lat: 25.03, Lng: 121.56}.Valid())
	assert.False(t, GeoPoint{Lat: 91, Lng: 0}.Valid())
	assert.False(t, GeoPoint{Lat: 0, Lng: -181}.Valid())
}
