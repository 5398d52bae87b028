package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/septivank/appliance-telemetry/internal/db"
	"github.com/septivank/appliance-telemetry/tools/timeparser"
)

// EventKind tells which relation a decoded event belongs to.
type EventKind int

const (
	KindHistorical EventKind = iota + 1
	KindPeriodic
)

func (k EventKind) String() string {
	switch k {
	case KindHistorical:
		return "historical"
	case KindPeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Event is a decoded telemetry message. Exactly one of Historical or
// Periodic is set, matching Kind.
type Event struct {
	Kind       EventKind
	Historical *db.HistoricalSample
	Periodic   *db.PeriodicSample

	// DefaultedTimestamp is set when local_time was absent and the
	// configured sentinel was used instead. Samples from different
	// appliances stay distinct, but repeated defaulted samples from the
	// same appliance collapse onto one key.
	DefaultedTimestamp bool
}

// ApplianceName returns the identity of the decoded sample.
func (e Event) ApplianceName() string {
	switch e.Kind {
	case KindHistorical:
		return e.Historical.ApplianceName
	case KindPeriodic:
		return e.Periodic.ApplianceName
	}
	return ""
}

// ObservedAt returns the key timestamp of the decoded sample.
func (e Event) ObservedAt() time.Time {
	switch e.Kind {
	case KindHistorical:
		return e.Historical.ObservedAt
	case KindPeriodic:
		return e.Periodic.ObservedAt
	}
	return time.Time{}
}

// Topics maps the two logical channels to their broker topics.
type Topics struct {
	Historical string
	Periodic   string
}

// Decoder turns raw broker payloads into typed samples
type Decoder struct {
	topics             Topics
	defaultLocalTime   time.Time
	allowUnknownFields bool
}

// NewDecoder creates a decoder for the given topics. defaultLocalTime is
// substituted when a payload carries no local_time.
func NewDecoder(topics Topics, defaultLocalTime string, allowUnknownFields bool) (*Decoder, error) {
	for _, filter := range []string{topics.Historical, topics.Periodic} {
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, err
		}
	}

	def, err := timeparser.ParseLocalTime(defaultLocalTime)
	if err != nil {
		return nil, fmt.Errorf("invalid default local time: %w", err)
	}
	return &Decoder{
		topics:             topics,
		defaultLocalTime:   def,
		allowUnknownFields: allowUnknownFields,
	}, nil
}

// Decode routes payload to the schema whose topic filter matches topic.
// Filters may use the MQTT + and # wildcards.
func (d *Decoder) Decode(topic string, payload []byte) (Event, error) {
	kind, ok := d.Channel(topic)
	if !ok {
		return Event{}, &DecodeError{Kind: UnknownTopic, Topic: topic}
	}
	if kind == KindHistorical {
		return d.decodeHistorical(topic, payload)
	}
	return d.decodePeriodic(topic, payload)
}

// Channel reports which schema a concrete topic is bound to. An exact match
// wins over a wildcard match.
func (d *Decoder) Channel(topic string) (EventKind, bool) {
	switch topic {
	case d.topics.Historical:
		return KindHistorical, true
	case d.topics.Periodic:
		return KindPeriodic, true
	}
	if TopicMatches(d.topics.Historical, topic) {
		return KindHistorical, true
	}
	if TopicMatches(d.topics.Periodic, topic) {
		return KindPeriodic, true
	}
	return 0, false
}

// DecodeHistorical decodes a historical payload that did not arrive over
// the broker, such as a direct write request.
func (d *Decoder) DecodeHistorical(payload []byte) (Event, error) {
	return d.decodeHistorical("", payload)
}

// DecodePeriodic decodes a periodic payload that did not arrive over the
// broker.
func (d *Decoder) DecodePeriodic(payload []byte) (Event, error) {
	return d.decodePeriodic("", payload)
}

type historicalPayload struct {
	ApplianceName *string `json:"appliance_name"`
	LocalTime     *string `json:"local_time"`
	TodayRuntime  int64   `json:"today_runtime"`
	MonthRuntime  int64   `json:"month_runtime"`
	TodayEnergy   int64   `json:"today_energy"`
	MonthEnergy   int64   `json:"month_energy"`
}

type periodicPayload struct {
	ApplianceName         *string  `json:"appliance_name"`
	LocalTime             *string  `json:"local_time"`
	CurrentPower          int64    `json:"current_power"`
	DistanceUltrasonic    int64    `json:"distance_ultrasonic"`
	DistanceBluetooth     int64    `json:"distance_bluetooth"`
	DistanceUltrawideband int64    `json:"distance_ultrawideband"`
	UserPresenceDetected  presence `json:"user_presence_detected"`
}

func (d *Decoder) decodeHistorical(topic string, payload []byte) (Event, error) {
	var p historicalPayload
	if err := d.unmarshal(topic, payload, &p); err != nil {
		return Event{}, err
	}

	name, err := identity(topic, p.ApplianceName)
	if err != nil {
		return Event{}, err
	}
	observedAt, defaulted, err := d.localTime(topic, p.LocalTime)
	if err != nil {
		return Event{}, err
	}

	sample := &db.HistoricalSample{
		ApplianceName: name,
		ObservedAt:    observedAt,
		TodayRuntime:  p.TodayRuntime,
		MonthRuntime:  p.MonthRuntime,
		TodayEnergy:   p.TodayEnergy,
		MonthEnergy:   p.MonthEnergy,
	}
	if err := nonNegative(topic,
		field{"today_runtime", sample.TodayRuntime},
		field{"month_runtime", sample.MonthRuntime},
		field{"today_energy", sample.TodayEnergy},
		field{"month_energy", sample.MonthEnergy},
	); err != nil {
		return Event{}, err
	}

	return Event{Kind: KindHistorical, Historical: sample, DefaultedTimestamp: defaulted}, nil
}

func (d *Decoder) decodePeriodic(topic string, payload []byte) (Event, error) {
	var p periodicPayload
	if err := d.unmarshal(topic, payload, &p); err != nil {
		return Event{}, err
	}

	name, err := identity(topic, p.ApplianceName)
	if err != nil {
		return Event{}, err
	}
	observedAt, defaulted, err := d.localTime(topic, p.LocalTime)
	if err != nil {
		return Event{}, err
	}

	sample := &db.PeriodicSample{
		ApplianceName:         name,
		ObservedAt:            observedAt,
		CurrentPower:          p.CurrentPower,
		DistanceUltrasonic:    p.DistanceUltrasonic,
		DistanceBluetooth:     p.DistanceBluetooth,
		DistanceUltrawideband: p.DistanceUltrawideband,
		UserPresenceDetected:  bool(p.UserPresenceDetected),
	}
	// Distances are left alone: devices use negative sentinels for
	// sensors they did not read this cycle.
	if err := nonNegative(topic, field{"current_power", sample.CurrentPower}); err != nil {
		return Event{}, err
	}

	return Event{Kind: KindPeriodic, Periodic: sample, DefaultedTimestamp: defaulted}, nil
}

func (d *Decoder) unmarshal(topic string, payload []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return malformed(topic, "empty payload", nil)
	}
	if trimmed[0] != '{' {
		return malformed(topic, "payload is not a JSON object", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if !d.allowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return malformed(topic, "invalid JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformed(topic, "trailing data after JSON object", nil)
	}
	return nil
}

func identity(topic string, name *string) (string, error) {
	if name == nil {
		return "", &DecodeError{Kind: MissingIdentity, Topic: topic, Reason: "appliance_name is missing"}
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return "", &DecodeError{Kind: MissingIdentity, Topic: topic, Reason: "appliance_name is empty"}
	}
	return trimmed, nil
}

func (d *Decoder) localTime(topic string, raw *string) (time.Time, bool, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return d.defaultLocalTime, true, nil
	}
	t, err := timeparser.ParseLocalTime(*raw)
	if err != nil {
		return time.Time{}, false, malformed(topic, "invalid local_time", err)
	}
	return t, false, nil
}

type field struct {
	name  string
	value int64
}

func nonNegative(topic string, fields ...field) error {
	for _, f := range fields {
		if f.value < 0 {
			return malformed(topic, fmt.Sprintf("%s must be non-negative, got %d", f.name, f.value), nil)
		}
	}
	return nil
}

// presence accepts JSON booleans and the integers 0 and 1.
type presence bool

func (p *presence) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "null":
		return nil
	case "true", "1":
		*p = true
	case "false", "0":
		*p = false
	default:
		return fmt.Errorf("user_presence_detected must be a boolean or 0/1, got %s", b)
	}
	return nil
}
