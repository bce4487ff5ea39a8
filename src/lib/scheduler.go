package lib

import (
	"time"

	"github.com/go-co-op/gocron/v2"
)

var scheduler gocron.Scheduler

func NewScheduler(s gocron.Scheduler) {
	scheduler = s
}

func GetScheduler() (gocron.Scheduler, error) {
	if scheduler != nil {
		return scheduler, nil
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		Logger.Error().Err(err).Msg("error initializing scheduler")
		return nil, err
	}
	scheduler = sched
	return sched, nil
}

// CreateIntervalJob registers a singleton job so a slow run is never overlapped
// by the next tick.
func CreateIntervalJob(name string, interval time.Duration, handler any, args ...any) (*string, error) {
	sched, err := GetScheduler()
	if err != nil {
		return nil, err
	}
	j, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(handler, args...),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	id := j.ID().String()
	Logger.Info().Str("job", name).Str("id", id).Dur("interval", interval).Msg("job scheduled")
	return &id, nil
}
