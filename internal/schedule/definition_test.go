package schedule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInterval(t *testing.T) {
	def := Definition{
		Type:     KindInterval,
		Interval: &IntervalSchedule{IntervalSeconds: 86400, Timezone: "America/New_York"},
	}
	assert.NoError(t, def.Validate())
}

func TestValidateIntervalRejectsNonPositive(t *testing.T) {
	def := Definition{
		Type:     KindInterval,
		Interval: &IntervalSchedule{IntervalSeconds: 0},
	}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "interval.intervalSeconds", verr.Field)
}

func TestValidateIntervalRejectsBadTimezone(t *testing.T) {
	def := Definition{
		Type:     KindInterval,
		Interval: &IntervalSchedule{IntervalSeconds: 60, Timezone: "Not/AZone"},
	}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "interval.timezone", verr.Field)
}

func TestValidateCron(t *testing.T) {
	def := Definition{
		Type: KindCron,
		Cron: &CronSchedule{Expression: "0 9 * * MON-FRI", Timezone: "UTC"},
	}
	assert.NoError(t, def.Validate())

	def.Cron.Expression = "@daily"
	assert.NoError(t, def.Validate())
}

func TestValidateCronRejectsMalformedExpression(t *testing.T) {
	def := Definition{
		Type: KindCron,
		Cron: &CronSchedule{Expression: "61 * * * *"},
	}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "cron.expression", verr.Field)
}

func TestValidateRRule(t *testing.T) {
	def := Definition{
		Type:  KindRRule,
		RRule: &RRuleSchedule{Rule: "FREQ=WEEKLY;BYDAY=MO", Timezone: "Europe/Berlin"},
	}
	assert.NoError(t, def.Validate())

	def.RRule.Rule = "BYDAY=MO"
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "rrule.rule", verr.Field)
}

func TestValidateRejectsUnknownType(t *testing.T) {
	def := Definition{Type: "hourly"}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "type", verr.Field)
}

func TestValidateRejectsMissingType(t *testing.T) {
	def := Definition{}
	err := def.Validate()
	require.Error(t, err)
}

func TestValidateRejectsMixedVariants(t *testing.T) {
	def := Definition{
		Type:     KindInterval,
		Interval: &IntervalSchedule{IntervalSeconds: 60},
		Cron:     &CronSchedule{Expression: "* * * * *"},
	}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "type", verr.Field)
}

func TestValidateRejectsMissingVariantBody(t *testing.T) {
	def := Definition{Type: KindCron}
	err := def.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "cron", verr.Field)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	var def Definition
	err := json.Unmarshal([]byte(`{"type":"lunar","interval":{"intervalSeconds":60}}`), &def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)
}

func TestUnmarshalRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"interval","interval":{"intervalSeconds":3600,"timezone":"UTC"}}`)
	var def Definition
	require.NoError(t, json.Unmarshal(raw, &def))
	require.NotNil(t, def.Interval)
	assert.Equal(t, int64(3600), def.Interval.IntervalSeconds)
	assert.NoError(t, def.Validate())
}
