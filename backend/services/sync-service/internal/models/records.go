package models

import "time"

// ProductionRecord is one hour-bucketed observation keyed by
// (device_id, provider, time_bucket, metric).
type ProductionRecord struct {
	DeviceID   string     `db:"device_id" json:"device_id"`
	Provider   string     `db:"provider" json:"provider"`
	TimeBucket time.Time  `db:"time_bucket" json:"time_bucket"`
	Metric     Metric     `db:"metric" json:"metric"`
	Value      float64    `db:"value" json:"value"`
	Delta      float64    `db:"delta" json:"delta"`
	Confidence Confidence `db:"confidence" json:"confidence"`
}

// HourBucket truncates t to the start of its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Classification tags where a charging session happened.
type Classification string

const (
	ClassificationHome   Classification = "home"
	ClassificationPublic Classification = "public"
)

// ChargingSession is an immutable charging event from vendor history.
type ChargingSession struct {
	DeviceID       string         `db:"device_id" json:"device_id"`
	Provider       string         `db:"provider" json:"provider"`
	VendorID       string         `db:"vendor_session_id" json:"vendor_session_id"`
	SessionDate    time.Time      `db:"session_date" json:"session_date"`
	EnergyKWh      float64        `db:"energy_kwh" json:"energy_kwh"`
	Location       string         `db:"location" json:"location"`
	SessionType    string         `db:"session_type" json:"session_type,omitempty"`
	Fee            float64        `db:"fee" json:"fee"`
	Classification Classification `db:"classification" json:"classification"`
}

// UpsertOutcome is the result of a single idempotent write.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota + 1
	// Accumulated means the bucket already held a lower value; the increment was added to it.
	Accumulated
	// IgnoredDuplicate means the row already held this value or more; the data is durable either way.
	IgnoredDuplicate
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Accumulated:
		return "accumulated"
	case IgnoredDuplicate:
		return "ignored_duplicate"
	}
	return "unknown"
}

// BatchResult summarizes a chunked insert. Failed rows belong to chunks that
// hit a non-duplicate error; the remaining chunks still ran.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Failed     int
	Errors     []error
}

// Add merges another batch result into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// Durable is the number of rows known to exist after the batch.
func (r BatchResult) Durable() int {
	return r.Inserted + r.Duplicates
}
