package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrInvalidSchedules — SCHEDULES не разобран.
var ErrInvalidSchedules = errors.New("invalid schedules")

// Entry — расписание одного flow.
type Entry struct {
	FlowID   string
	CronExpr string
	Schedule cron.Schedule
}

// Next возвращает следующее срабатывание после from (в UTC).
func (e Entry) Next(from time.Time) time.Time {
	return e.Schedule.Next(from).UTC()
}

// ParseSchedules разбирает строку вида "flowId=cronExpr;flowId=cronExpr".
// Пустые элементы пропускаются. Один flow может встречаться несколько раз.
func ParseSchedules(s string) ([]Entry, error) {
	var entries []Entry
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		flowID, expr, ok := strings.Cut(item, "=")
		flowID, expr = strings.TrimSpace(flowID), strings.TrimSpace(expr)
		if !ok || flowID == "" || expr == "" {
			return nil, fmt.Errorf("%w: %q is not flowId=cronExpr", ErrInvalidSchedules, item)
		}

		schedule, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: flow %s: parse cron expression %q: %v", ErrInvalidSchedules, flowID, expr, err)
		}

		entries = append(entries, Entry{FlowID: flowID, CronExpr: expr, Schedule: schedule})
	}
	return entries, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}
