// Package telemetry streams the per-tick actuator pose to InfluxDB.
package telemetry

import (
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"biped/internal/actuator"
	"biped/internal/logging"
	"biped/pkg/types"
)

const defaultMeasurement = "actuators"

// Recorder writes one point per observed pose through the non-blocking
// InfluxDB write API. Write errors are logged, never returned to the cycle.
type Recorder struct {
	client      influxdb2.Client
	writeAPI    api.WriteApi
	measurement string
	tags        map[string]string
	logger      *logging.Logger

	closeOnce sync.Once
}

func NewRecorder(cfg types.TelemetryConfig) *Recorder {
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	r := &Recorder{
		client:      client,
		writeAPI:    client.WriteApi(cfg.Org, cfg.Bucket),
		measurement: measurement,
		tags:        map[string]string{"source": "biped"},
		logger:      logging.GetLogger("telemetry"),
	}

	errorsCh := r.writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			r.logger.Warn("Telemetry write failed", "error", err)
		}
	}()

	r.logger.Info("Telemetry enabled", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket, "measurement", measurement)
	return r
}

// Fields flattens a pose into <NAME>.current and <NAME>.next fields.
func Fields(pose actuator.Pose) map[string]interface{} {
	fields := make(map[string]interface{}, 2*len(pose.Joints))
	for _, j := range pose.Joints {
		fields[j.Name+".current"] = j.Current
		fields[j.Name+".next"] = j.Next
	}
	return fields
}

// Observe queues the pose for writing.
func (r *Recorder) Observe(pose actuator.Pose) {
	if len(pose.Joints) == 0 {
		return
	}
	r.writeAPI.WritePoint(influxdb2.NewPoint(r.measurement, r.tags, Fields(pose), pose.Time))
}

func (r *Recorder) Flush() {
	r.writeAPI.Flush()
}

// Close flushes pending points and releases the client.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.writeAPI.Flush()
		r.writeAPI.Close()
		r.client.Close()
		r.logger.Info("Telemetry closed")
	})
}
