package httpapi

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/submerge-go/internal/cache"
	"github.com/John-Robertt/submerge-go/internal/callback"
	"github.com/John-Robertt/submerge-go/internal/convert"
	"github.com/John-Robertt/submerge-go/internal/pipeline"
)

// Options wires the HTTP surface to the resolution pipeline.
type Options struct {
	Pipeline *pipeline.Pipeline
	Cache    *cache.Manager
	Signer   *callback.Signer

	// PublicBaseURL is the externally reachable origin used to build
	// converter callback URLs. Empty derives it from the request.
	PublicBaseURL string

	// ConvertTimeout bounds each converter endpoint attempt.
	ConvertTimeout time.Duration

	Logger logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = convert.DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}
