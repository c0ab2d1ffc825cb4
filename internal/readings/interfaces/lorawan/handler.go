package lorawan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"coldchain-cloud/internal/observability/metrics"
	readings "coldchain-cloud/internal/readings/domain"
)

// ReadingSink accepts normalized readings for evaluation.
type ReadingSink interface {
	HandleReading(ctx context.Context, reading readings.Reading) error
}

// SensorResolver maps a device identifier to its unit.
type SensorResolver interface {
	UnitIDForSensor(ctx context.Context, sensorID string) (string, error)
}

// IngestHandler accepts uplink webhooks from the LoRaWAN network
// server, normalizes them, and hands them to the evaluation pipeline.
type IngestHandler struct {
	sink     ReadingSink
	resolver SensorResolver
	log      *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(sink ReadingSink, resolver SensorResolver, log *zap.Logger) (*IngestHandler, error) {
	if sink == nil {
		return nil, errors.New("lorawan ingest: nil sink")
	}
	if resolver == nil {
		return nil, errors.New("lorawan ingest: nil sensor resolver")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestHandler{sink: sink, resolver: resolver, log: log}, nil
}

// ServeHTTP ingests one uplink.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Warn("ingest read body failed", zap.Error(err))
		metrics.IncIngestError("read_body")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var uplink uplinkMessage
	if err := json.Unmarshal(body, &uplink); err != nil {
		h.log.Warn("ingest decode failed", zap.Error(err))
		metrics.IncIngestError("decode")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reading, err := uplink.toReading()
	if err != nil {
		h.log.Warn("ingest invalid payload", zap.Error(err))
		metrics.IncIngestError("payload")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	unitID, err := h.resolver.UnitIDForSensor(r.Context(), reading.SensorID)
	if err != nil {
		h.log.Error("sensor resolve failed", zap.String("sensor_id", reading.SensorID), zap.Error(err))
		metrics.IncIngestError("resolve")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "resolve error", http.StatusInternalServerError)
		return
	}
	if unitID == "" {
		h.log.Warn("uplink from unassigned sensor", zap.String("sensor_id", reading.SensorID))
		metrics.IncIngestError("unknown_sensor")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "unknown sensor", http.StatusNotFound)
		return
	}
	reading.UnitID = unitID

	if err := h.sink.HandleReading(r.Context(), reading); err != nil {
		h.log.Error("ingest handling failed", zap.String("unit_id", unitID), zap.Error(err))
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// uplinkMessage mirrors the network server's webhook shape.
type uplinkMessage struct {
	DeviceID   string         `json:"device_id"`
	DevEUI     string         `json:"dev_eui"`
	ReceivedAt time.Time      `json:"received_at"`
	Object     decodedObject  `json:"object"`
	RxMetadata []gatewayRx    `json:"rx_metadata"`
	Meta       map[string]any `json:"meta"`
}

type decodedObject struct {
	TemperatureC   *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	DoorOpen       *bool    `json:"door_open"`
	BatteryVoltage *float64 `json:"battery_v"`
}

type gatewayRx struct {
	RSSI *int `json:"rssi"`
}

func (u uplinkMessage) toReading() (readings.Reading, error) {
	sensorID := u.DeviceID
	if sensorID == "" {
		sensorID = u.DevEUI
	}
	if sensorID == "" {
		return readings.Reading{}, errors.New("missing device identifier")
	}
	at := u.ReceivedAt
	if at.IsZero() {
		return readings.Reading{}, errors.New("missing received_at")
	}
	if u.Object.TemperatureC == nil && u.Object.Humidity == nil &&
		u.Object.DoorOpen == nil && u.Object.BatteryVoltage == nil {
		return readings.Reading{}, errors.New("empty decoded object")
	}

	reading := readings.Reading{
		SensorID:       sensorID,
		At:             at.UTC(),
		TemperatureC:   u.Object.TemperatureC,
		Humidity:       u.Object.Humidity,
		DoorOpen:       u.Object.DoorOpen,
		BatteryVoltage: u.Object.BatteryVoltage,
	}
	// Strongest gateway wins.
	for _, rx := range u.RxMetadata {
		if rx.RSSI == nil {
			continue
		}
		if reading.RSSI == nil || *rx.RSSI > *reading.RSSI {
			v := *rx.RSSI
			reading.RSSI = &v
		}
	}
	return reading, nil
}
