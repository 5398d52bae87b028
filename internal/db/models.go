package db

import (
	"time"
)

// HistoricalSample is a cumulative runtime/energy snapshot for one appliance.
// ObservedAt is the device's local wall clock, stored without a zone.
type HistoricalSample struct {
	ApplianceName string
	ObservedAt    time.Time
	TodayRuntime  int64
	MonthRuntime  int64
	TodayEnergy   int64
	MonthEnergy   int64
}

// PeriodicSample is a short-interval sensor reading for one appliance.
type PeriodicSample struct {
	ApplianceName         string
	ObservedAt            time.Time
	CurrentPower          int64
	DistanceUltrasonic    int64
	DistanceBluetooth     int64
	DistanceUltrawideband int64
	UserPresenceDetected  bool
}
