package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "studysched/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// Config controls the trigger service.
type Config struct {
	Enabled bool
	// Location is the zone cron specs are evaluated in. Nil means UTC.
	Location *time.Location
}

// Job is one registered housekeeping task.
type Job struct {
	Name    string
	Spec    string // cron spec, descriptor or @every
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type scheduleDef struct {
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	defs   map[string]*scheduleDef

	rmu     sync.Mutex
	running map[string]bool
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}
