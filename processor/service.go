package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
)

const (
	defaultSMSAlertDays  = 14.0
	defaultRateWindow    = 14.0
	rateWindowSliceDays  = 0.2
	rateRetries          = 2
	alertDedupWindow     = 48 * time.Hour
	serviceEstLayout     = "02/01/2006"
	serviceEstimateZone  = "Australia/Brisbane"
	lastAlertKey         = "last_alert_at"
	daysToServiceKey     = "days_to_service"
	alertMessageTemplate = "Next service estimated on %s"
)

var brisbane = mustLoadLocation(serviceEstimateZone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Rates are observed daily usage rates. A nil member means the rate could
// not be determined from the message history.
type Rates struct {
	HoursPerDay *float64
	KmsPerDay   *float64
}

// AverageRates estimates daily usage by sampling the UI state history in a
// small slice of time windowDays ago. When a rate is still missing the
// window is halved and the search repeats, at most rateRetries extra times.
// Rates that stay indeterminate are returned nil and the caller skips the
// corresponding estimate.
func AverageRates(ctx context.Context, store channel.Store, agentID string, windowDays float64, now func() time.Time) Rates {
	var rates Rates
	for attempt := 0; attempt <= rateRetries; attempt++ {
		day := time.Duration(float64(24*time.Hour) * windowDays)
		slice := time.Duration(float64(24*time.Hour) * (windowDays - rateWindowSliceDays))
		start := now().Add(-day)
		end := now().Add(-slice)

		messages, err := store.MessagesInWindow(ctx, agentID, channel.UIState, start, end)
		if err != nil && !errors.Is(err, channel.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warn("cannot read ui state history")
			return rates
		}
		for _, m := range messages {
			if rates.HoursPerDay == nil {
				if hours, ok := stateChildValue(m.Payload, "deviceRunHours"); ok {
					perDay := hours / windowDays
					rates.HoursPerDay = &perDay
				}
			}
			if rates.KmsPerDay == nil {
				if kms, ok := stateChildValue(m.Payload, "deviceOdometer"); ok {
					perDay := kms / windowDays
					rates.KmsPerDay = &perDay
				}
			}
		}
		if rates.HoursPerDay != nil && rates.KmsPerDay != nil {
			return rates
		}
		windowDays /= 2
	}
	return rates
}

func stateChildValue(payload channel.Document, name string) (float64, bool) {
	state, ok := payload["state"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	children, ok := state["children"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	child, ok := children[name].(map[string]interface{})
	if !ok {
		return 0, false
	}
	value, ok := child["currentValue"].(float64)
	return value, ok
}

// servicePlan reads the user-set maintenance parameters out of the command
// aggregate.
type servicePlan struct {
	cmds channel.Document
}

func (s servicePlan) float(name string) *float64 {
	switch v := s.cmds[name].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

func (s servicePlan) floatOr(name string, fallback float64) float64 {
	if v := s.float(name); v != nil {
		return *v
	}
	return fallback
}

func (s servicePlan) smsAlertDays() float64 { return s.floatOr("warningSmsPeriod", defaultSMSAlertDays) }
func (s servicePlan) rateWindowDays() float64 { return s.floatOr("aveCalcDays", defaultRateWindow) }
func (s servicePlan) nextServiceDue() *float64 { return s.float("nextServiceDue") }
func (s servicePlan) nextServiceHours() *float64 { return s.float("nextServiceHours") }
func (s servicePlan) nextServiceOdo() *float64 { return s.float("nextServiceOdo") }

// NextServiceEstimate projects the next service date from three
// independent estimators: the user-set due date, the hours budget divided
// by the average daily hours, and the distance budget divided by the
// average daily kms. The earliest determinate estimate wins. The zero time
// is returned when every estimator is indeterminate.
func NextServiceEstimate(now time.Time, currHours, currOdo *float64, rates Rates, plan servicePlan) time.Time {
	var estimates []time.Time

	if due := plan.nextServiceDue(); due != nil {
		estimates = append(estimates, time.Unix(int64(*due), 0))
	}
	if target := plan.nextServiceHours(); target != nil && currHours != nil && rates.HoursPerDay != nil && *rates.HoursPerDay > 0 {
		daysToRun := (*target - *currHours) / *rates.HoursPerDay
		estimates = append(estimates, now.Add(time.Duration(daysToRun*float64(24*time.Hour))))
	}
	if target := plan.nextServiceOdo(); target != nil && currOdo != nil && rates.KmsPerDay != nil && *rates.KmsPerDay > 0 {
		daysToRun := (*target - *currOdo) / *rates.KmsPerDay
		estimates = append(estimates, now.Add(time.Duration(daysToRun*float64(24*time.Hour))))
	}

	var earliest time.Time
	for _, e := range estimates {
		if earliest.IsZero() || e.Before(earliest) {
			earliest = e
		}
	}
	return earliest
}

// FormatServiceEstimate renders an estimate as dd/mm/yyyy in the fleet's
// home timezone, or "" for the zero time.
func FormatServiceEstimate(estimate time.Time) string {
	if estimate.IsZero() {
		return ""
	}
	return estimate.In(brisbane).Format(serviceEstLayout)
}

// maybeSendServiceAlert raises a notification when the projected days to
// service cross from above the SMS warning threshold to at or below it. The
// previous reading lives in the notification channel's aggregate, so the
// crossing detection survives restarts; a dedup window guards against
// flapping estimates on top of that.
func maybeSendServiceAlert(ctx context.Context, store channel.Store, agentID string, estimate time.Time, alertDays float64, now func() time.Time) error {
	if estimate.IsZero() {
		return nil
	}
	daysToService := estimate.Sub(now()).Hours() / 24

	aggregate, err := store.GetAggregate(ctx, agentID, channel.Notifications)
	if err != nil && !errors.Is(err, channel.ErrNotFound) {
		return err
	}
	previous, hasPrevious := aggregate[daysToServiceKey].(float64)
	crossed := daysToService <= alertDays && (!hasPrevious || previous > alertDays)
	deduped := false
	if last, ok := aggregate[lastAlertKey].(float64); ok {
		deduped = now().Sub(time.Unix(int64(last), 0)) < alertDedupWindow
	}

	if !crossed || deduped {
		if hasPrevious && previous == daysToService {
			return nil
		}
		// keep the reading current so the next crossing is detected
		return store.Publish(ctx, agentID, channel.Notifications, channel.Document{
			daysToServiceKey: daysToService,
		}, false)
	}

	message := fmt.Sprintf(alertMessageTemplate, FormatServiceEstimate(estimate))
	logger.FromContext(ctx).WithField("estimate", FormatServiceEstimate(estimate)).Info("raising service alert")
	return store.Publish(ctx, agentID, channel.Notifications, channel.Document{
		"message":        message,
		lastAlertKey:     float64(now().Unix()),
		daysToServiceKey: daysToService,
	}, true)
}
