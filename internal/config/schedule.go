package config

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	pkgconfig "market-dashboard/pkg/config"
)

// DefaultReportSchedule runs the market report every five minutes.
const DefaultReportSchedule = "@every 5m"

// CronParser accepts five-field expressions and descriptors such as "@hourly"
// or "@every 10m". The scheduler must be built with the same parser.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule parses schedule with CronParser.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}
	if _, err := CronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// LoadReportSchedule reads REPORT_SCHEDULE. An invalid value is logged,
// counted on m (when non-nil) and replaced by the default.
func LoadReportSchedule(m *Metrics) string {
	schedule := pkgconfig.GetEnvString("REPORT_SCHEDULE", DefaultReportSchedule)
	if err := ValidateCronSchedule(schedule); err != nil {
		slog.Warn("invalid REPORT_SCHEDULE, using default",
			slog.String("value", schedule),
			slog.String("default", DefaultReportSchedule),
			slog.Any("error", err))
		if m != nil {
			m.RecordFallback("report_schedule")
		}
		return DefaultReportSchedule
	}
	return schedule
}
