package backup

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/wpdocker/wp-docker/cmd/internal/siteconfig"
)

const (
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"

	// LastDayOfMonth selects the last day of the month in monthly schedules
	LastDayOfMonth = -1

	defaultDayOfWeek  = 1
	defaultDayOfMonth = 1
)

// Recurrence returns the cron expression of a backup schedule.
//
// Monthly schedules on the last day of the month fire on days 28-31, see RunsOnLastDay.
func Recurrence(schedule *siteconfig.BackupSchedule) (string, error) {
	if schedule == nil {
		return "", errors.New("schedule must not be nil")
	}
	if schedule.Hour < 0 || schedule.Hour > 23 {
		return "", fmt.Errorf("invalid hour %d, must be between 0 and 23", schedule.Hour)
	}
	if schedule.Minute < 0 || schedule.Minute > 59 {
		return "", fmt.Errorf("invalid minute %d, must be between 0 and 59", schedule.Minute)
	}

	var expr string
	switch schedule.ScheduleType {
	case ScheduleDaily:
		expr = fmt.Sprintf("%d %d * * *", schedule.Minute, schedule.Hour)
	case ScheduleWeekly:
		dow := defaultDayOfWeek
		if schedule.DayOfWeek != nil {
			dow = *schedule.DayOfWeek
		}
		if dow < 0 || dow > 6 {
			return "", fmt.Errorf("invalid day of week %d, must be between 0 (sunday) and 6", dow)
		}
		expr = fmt.Sprintf("%d %d * * %d", schedule.Minute, schedule.Hour, dow)
	case ScheduleMonthly:
		dom := defaultDayOfMonth
		if schedule.DayOfMonth != nil {
			dom = *schedule.DayOfMonth
		}
		switch {
		case dom == LastDayOfMonth:
			expr = fmt.Sprintf("%d %d 28-31 * *", schedule.Minute, schedule.Hour)
		case dom >= 1 && dom <= 31:
			expr = fmt.Sprintf("%d %d %d * *", schedule.Minute, schedule.Hour, dom)
		default:
			return "", fmt.Errorf("invalid day of month %d, must be between 1 and 31 or %d for the last day", dom, LastDayOfMonth)
		}
	default:
		return "", fmt.Errorf("unknown schedule type %q", schedule.ScheduleType)
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("invalid recurrence %q: %w", expr, err)
	}

	return expr, nil
}

// RunsOnLastDay reports whether the schedule targets the last day of the month
func RunsOnLastDay(schedule *siteconfig.BackupSchedule) bool {
	return schedule != nil && schedule.ScheduleType == ScheduleMonthly && schedule.DayOfMonth != nil && *schedule.DayOfMonth == LastDayOfMonth
}
