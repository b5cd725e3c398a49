package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HoursConfig describes the human team's attention window.
type HoursConfig struct {
	Timezone  string
	OpenHour  int
	CloseHour int
}

type businessHoursTool struct {
	hours HoursConfig
	now   func() time.Time
}

func (t *businessHoursTool) Spec() Spec {
	return Spec{
		Name:        string(KindBusinessHours),
		Description: "Verifica si el equipo humano está en horario de atención en este momento.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

type businessHoursPayload struct {
	Open     bool   `json:"open"`
	OpensAt  string `json:"opens_at"`
	ClosesAt string `json:"closes_at"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

func (t *businessHoursTool) Run(ctx context.Context, args json.RawMessage, tc *Context) (Result, error) {
	tz := t.hours.Timezone
	if tz == "" {
		tz = "America/Bogota"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Result{}, fmt.Errorf("tools: invalid timezone %q: %w", tz, err)
	}

	open, close := t.hours.OpenHour, t.hours.CloseHour
	if close <= open {
		open, close = 8, 18
	}

	now := t.now().In(loc)
	isOpen := now.Weekday() != time.Sunday &&
		now.Hour() >= open && now.Hour() < close

	return Result{
		OK: true,
		Payload: payloadJSON(businessHoursPayload{
			Open:     isOpen,
			OpensAt:  fmt.Sprintf("%02d:00", open),
			ClosesAt: fmt.Sprintf("%02d:00", close),
			Timezone: tz,
			Weekday:  now.Weekday().String(),
		}),
	}, nil
}
