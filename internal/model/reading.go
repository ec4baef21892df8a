package model

import "time"

// Reading is a single sensor sample. Every measurement is optional: a
// provider payload carries only the metrics the sensor model supports.
//
// Ts is stored in unix milliseconds. The composite unique index on
// (device_id, ts) both serves the by-device time-range scans that every
// dashboard, export and retention job runs through, and collapses
// webhook/poll races on the same sample into a single row.
type Reading struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID int64 `gorm:"not null;uniqueIndex:idx_reading_device_ts,priority:1" json:"deviceId"`
	Ts       int64 `gorm:"not null;uniqueIndex:idx_reading_device_ts,priority:2" json:"ts"`
	// DeviceName is a snapshot of the device's display name at insert
	// time, so exports stay labeled after renames or deletions.
	DeviceName string   `gorm:"size:256" json:"deviceName"`
	PM25       *float64 `json:"pm25,omitempty"`
	PM10       *float64 `json:"pm10,omitempty"`
	CO2        *float64 `json:"co2,omitempty"`
	TempC      *float64 `json:"tempC,omitempty"`
	Humidity   *float64 `json:"humidity,omitempty"`
	TVOC       *float64 `json:"tvoc,omitempty"`
	Pressure   *float64 `json:"pressure,omitempty"`
	Battery    *int     `json:"battery,omitempty"`
	AQI        *int     `json:"aqi,omitempty"`
	CreatedAt  time.Time
}
