package processor

import (
	"context"
	"testing"
	"time"

	"github.com/getdoover/digital-matter/channel"
)

func stateMessage(runHours, odometer float64) channel.Document {
	return channel.Document{
		"state": map[string]interface{}{
			"children": map[string]interface{}{
				"deviceRunHours": map[string]interface{}{"currentValue": runHours},
				"deviceOdometer": map[string]interface{}{"currentValue": odometer},
			},
		},
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestAverageRates(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	err := store.PublishAt("agent", channel.UIState, stateMessage(140, 1400), now.AddDate(0, 0, -14).Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	rates := AverageRates(ctx, store, "agent", 14, fixedClock(now))
	if rates.HoursPerDay == nil || *rates.HoursPerDay != 10 {
		t.Fatal("unexpected hours per day:", rates.HoursPerDay)
	}
	if rates.KmsPerDay == nil || *rates.KmsPerDay != 100 {
		t.Fatal("unexpected kms per day:", rates.KmsPerDay)
	}
}

// an empty 14 day window falls back to halved windows
func TestAverageRatesHalvesWindow(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	err := store.PublishAt("agent", channel.UIState, stateMessage(70, 700), now.AddDate(0, 0, -7).Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	rates := AverageRates(ctx, store, "agent", 14, fixedClock(now))
	if rates.HoursPerDay == nil || *rates.HoursPerDay != 10 {
		t.Fatal("unexpected hours per day:", rates.HoursPerDay)
	}
}

func TestAverageRatesIndeterminate(t *testing.T) {
	store := channel.NewMemoryStore()
	rates := AverageRates(context.Background(), store, "agent", 14, time.Now)
	if rates.HoursPerDay != nil || rates.KmsPerDay != nil {
		t.Fatal("rates must stay indeterminate without history:", rates)
	}
}

func TestNextServiceEstimateEarliestWins(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	currHours, currOdo := 100.0, 1000.0
	hoursRate, kmsRate := 10.0, 100.0
	rates := Rates{HoursPerDay: &hoursRate, KmsPerDay: &kmsRate}
	plan := servicePlan{cmds: channel.Document{
		"nextServiceDue":   float64(now.AddDate(0, 0, 30).Unix()),
		"nextServiceHours": 200.0,  // 100 hours to run, 10 days
		"nextServiceOdo":   1500.0, // 500 kms to run, 5 days
	}}

	estimate := NextServiceEstimate(now, &currHours, &currOdo, rates, plan)
	want := now.Add(5 * 24 * time.Hour)
	if !estimate.Equal(want) {
		t.Fatal("unexpected estimate:", estimate)
	}
}

func TestNextServiceEstimateSkipsIndeterminate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	currHours := 100.0
	// no rates, no due date: everything indeterminate
	estimate := NextServiceEstimate(now, &currHours, nil, Rates{}, servicePlan{cmds: channel.Document{
		"nextServiceHours": 200.0,
	}})
	if !estimate.IsZero() {
		t.Fatal("estimate must be zero when every estimator is indeterminate:", estimate)
	}

	// the due date alone is enough
	due := now.AddDate(0, 0, 3)
	estimate = NextServiceEstimate(now, nil, nil, Rates{}, servicePlan{cmds: channel.Document{
		"nextServiceDue": float64(due.Unix()),
	}})
	if !estimate.Equal(due) {
		t.Fatal("unexpected estimate:", estimate)
	}
}

func TestFormatServiceEstimate(t *testing.T) {
	// 23:30 UTC on the 14th is already the 15th in Brisbane (UTC+10)
	estimate := time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC)
	if got := FormatServiceEstimate(estimate); got != "15/06/2025" {
		t.Fatal("unexpected format:", got)
	}
	if got := FormatServiceEstimate(time.Time{}); got != "" {
		t.Fatal("zero estimate must format empty:", got)
	}
}

func TestServiceAlertEdgeTrigger(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// first reading is above the threshold: no alert, reading recorded
	if err := maybeSendServiceAlert(ctx, store, "agent", now.AddDate(0, 0, 60), 14, fixedClock(now)); err != nil {
		t.Fatal(err)
	}
	aggregate, err := store.GetAggregate(ctx, "agent", channel.Notifications)
	if err != nil {
		t.Fatal(err)
	}
	if aggregate["message"] != nil {
		t.Fatal("no alert expected above the threshold:", aggregate)
	}

	// the estimate crosses into the warning window: alert fires
	if err := maybeSendServiceAlert(ctx, store, "agent", now.AddDate(0, 0, 3), 14, fixedClock(now)); err != nil {
		t.Fatal(err)
	}
	aggregate, _ = store.GetAggregate(ctx, "agent", channel.Notifications)
	if aggregate["message"] == nil {
		t.Fatal("expected an alert on the crossing")
	}
	firstAlert := aggregate[lastAlertKey]

	// still below the threshold two days later: no crossing, no re-alert,
	// even though the dedup window has passed
	later := now.Add(49 * time.Hour)
	if err := maybeSendServiceAlert(ctx, store, "agent", now.AddDate(0, 0, 3), 14, fixedClock(later)); err != nil {
		t.Fatal(err)
	}
	aggregate, _ = store.GetAggregate(ctx, "agent", channel.Notifications)
	if aggregate[lastAlertKey] != firstAlert {
		t.Fatal("alert must only fire on an above to below crossing")
	}

	// the plan moves out and crosses back in: a fresh alert
	if err := maybeSendServiceAlert(ctx, store, "agent", later.AddDate(0, 0, 60), 14, fixedClock(later)); err != nil {
		t.Fatal(err)
	}
	if err := maybeSendServiceAlert(ctx, store, "agent", later.AddDate(0, 0, 3), 14, fixedClock(later)); err != nil {
		t.Fatal(err)
	}
	aggregate, _ = store.GetAggregate(ctx, "agent", channel.Notifications)
	if aggregate[lastAlertKey] == firstAlert {
		t.Fatal("a fresh crossing must alert again")
	}
}

// a second crossing inside the dedup window is suppressed
func TestServiceAlertDedupWindow(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	if err := maybeSendServiceAlert(ctx, store, "agent", now.AddDate(0, 0, 3), 14, fixedClock(now)); err != nil {
		t.Fatal(err)
	}
	aggregate, _ := store.GetAggregate(ctx, "agent", channel.Notifications)
	firstAlert := aggregate[lastAlertKey]

	// out and back in within two hours
	later := now.Add(time.Hour)
	if err := maybeSendServiceAlert(ctx, store, "agent", later.AddDate(0, 0, 60), 14, fixedClock(later)); err != nil {
		t.Fatal(err)
	}
	later = now.Add(2 * time.Hour)
	if err := maybeSendServiceAlert(ctx, store, "agent", later.AddDate(0, 0, 3), 14, fixedClock(later)); err != nil {
		t.Fatal(err)
	}
	aggregate, _ = store.GetAggregate(ctx, "agent", channel.Notifications)
	if aggregate[lastAlertKey] != firstAlert {
		t.Fatal("flapping estimates must not re-alert inside the dedup window")
	}
}

func TestServiceAlertOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	err := maybeSendServiceAlert(ctx, store, "agent", now.AddDate(0, 0, 60), 14, fixedClock(now))
	if err != nil {
		t.Fatal(err)
	}
	aggregate, err := store.GetAggregate(ctx, "agent", channel.Notifications)
	if err != nil {
		t.Fatal(err)
	}
	if aggregate["message"] != nil {
		t.Fatal("no alert expected outside the warning window:", aggregate)
	}
	if aggregate[daysToServiceKey] == nil {
		t.Fatal("the reading must still be recorded:", aggregate)
	}
}
