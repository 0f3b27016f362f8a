package lifecycle

import (
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Logger zerolog.Logger
	// Clock по умолчанию time.Now
	Clock func() time.Time
	// Tracker можно разделить между контроллерами одного процесса
	Tracker *Tracker
}

func (o Options) withDefaults(component string) Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Tracker == nil {
		o.Tracker = NewTracker()
	}
	o.Logger = o.Logger.With().Str("component", component).Logger()
	return o
}
