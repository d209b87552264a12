package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates the closed set of schedule definition variants.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindRRule    Kind = "rrule"
)

// cronParser accepts the standard 5-field cron syntax plus descriptors
// like @daily. Seconds-resolution specs are not supported.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidationError identifies the definition field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
}

// IntervalSchedule fires every IntervalSeconds, phase-aligned to AnchorDate
// interpreted in Timezone.
type IntervalSchedule struct {
	IntervalSeconds int64      `json:"intervalSeconds"`
	AnchorDate      *time.Time `json:"anchorDate,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
}

// CronSchedule fires per a 5-field cron expression evaluated in Timezone.
type CronSchedule struct {
	Expression string `json:"expression"`
	Timezone   string `json:"timezone,omitempty"`
}

// RRuleSchedule carries an iCal recurrence rule string. The rule is opaque
// here beyond shape checks; expansion into timestamps happens downstream.
type RRuleSchedule struct {
	Rule     string `json:"rule"`
	Timezone string `json:"timezone,omitempty"`
}

// Definition is a tagged union over the known schedule variants. Exactly one
// variant is populated, selected by Type.
type Definition struct {
	Type     Kind              `json:"type"`
	Interval *IntervalSchedule `json:"interval,omitempty"`
	Cron     *CronSchedule     `json:"cron,omitempty"`
	RRule    *RRuleSchedule    `json:"rrule,omitempty"`
}

// Validate checks the definition against its variant's constraints. It is
// pure: no I/O, no side effects.
func (d Definition) Validate() error {
	switch d.Type {
	case KindInterval:
		if d.Interval == nil {
			return &ValidationError{Field: "interval", Reason: "required for type interval"}
		}
		if d.Cron != nil || d.RRule != nil {
			return &ValidationError{Field: "type", Reason: "more than one variant supplied"}
		}
		if d.Interval.IntervalSeconds <= 0 {
			return &ValidationError{Field: "interval.intervalSeconds", Reason: "must be positive"}
		}
		return validTimezone("interval.timezone", d.Interval.Timezone)
	case KindCron:
		if d.Cron == nil {
			return &ValidationError{Field: "cron", Reason: "required for type cron"}
		}
		if d.Interval != nil || d.RRule != nil {
			return &ValidationError{Field: "type", Reason: "more than one variant supplied"}
		}
		if strings.TrimSpace(d.Cron.Expression) == "" {
			return &ValidationError{Field: "cron.expression", Reason: "must not be empty"}
		}
		if _, err := cronParser.Parse(d.Cron.Expression); err != nil {
			return &ValidationError{Field: "cron.expression", Reason: err.Error()}
		}
		return validTimezone("cron.timezone", d.Cron.Timezone)
	case KindRRule:
		if d.RRule == nil {
			return &ValidationError{Field: "rrule", Reason: "required for type rrule"}
		}
		if d.Interval != nil || d.Cron != nil {
			return &ValidationError{Field: "type", Reason: "more than one variant supplied"}
		}
		rule := strings.TrimSpace(d.RRule.Rule)
		if rule == "" {
			return &ValidationError{Field: "rrule.rule", Reason: "must not be empty"}
		}
		if !strings.Contains(strings.ToUpper(rule), "FREQ=") {
			return &ValidationError{Field: "rrule.rule", Reason: "missing FREQ component"}
		}
		return validTimezone("rrule.timezone", d.RRule.Timezone)
	case "":
		return &ValidationError{Field: "type", Reason: "required"}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown schedule type %q", d.Type)}
	}
}

func validTimezone(field, tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown timezone %q", tz)}
	}
	return nil
}

// UnmarshalJSON rejects payloads whose type tag does not name a known
// variant, so malformed definitions fail at decode time rather than deep in
// the mutation path.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type alias Definition
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case KindInterval, KindCron, KindRRule, "":
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown schedule type %q", raw.Type)}
	}
	*d = Definition(raw)
	return nil
}
