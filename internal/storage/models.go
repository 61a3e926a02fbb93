package storage

import "time"

// ReadingRow is one committed sensor snapshot in the local log.
type ReadingRow struct {
	ID            int64
	Temperature   float64
	Humidity      float64
	LightLevel    int
	RainLevel     int
	AirQualityRaw int
	AirQualityPPM float64
	SoilMoisture  int
	Timestamp     int64
	TimeSynced    bool
	Valid         bool
	Uplinked      bool
	StoredAt      time.Time
}

// IrrigationEventRow is one completed watering evaluation.
type IrrigationEventRow struct {
	ID        int64
	Mode      string
	Reason    string
	StartSoil int
	EndSoil   int
	StartedAt time.Time
	EndedAt   time.Time
}

// UplinkRow is one transmission attempt.
type UplinkRow struct {
	ID        int64
	OK        bool
	Detail    string
	Timestamp time.Time
}

// Stats summarizes the local store.
type Stats struct {
	Readings         int64
	UplinkedReadings int64
	IrrigationEvents int64
	UplinkAttempts   int64
	UplinkFailures   int64
}
