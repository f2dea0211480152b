package app

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"

	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
)

// releaseFunc tears down one acquired resource.
type releaseFunc func(ctx context.Context) error

type scopedResource struct {
	name    string
	release releaseFunc
}

// scope is an ordered list of acquired resources, released in reverse order
// of acquisition.
type scope struct {
	logger    loggingpkg.ServiceLogger
	resources []scopedResource
}

func newScope(logger loggingpkg.ServiceLogger) *scope {
	return &scope{logger: logger}
}

// acquire runs open and, on success, records its release func. A failed
// acquisition records nothing.
func (s *scope) acquire(name string, open func() (releaseFunc, error)) error {
	release, err := open()
	if err != nil {
		return errors.Wrapf(err, "acquire %s", name)
	}
	s.resources = append(s.resources, scopedResource{name: name, release: release})
	s.logger.Info("Resource acquired", loggingpkg.LogFields{"resource": name})
	return nil
}

// release tears everything down, last acquired first. Every resource is
// released even when an earlier release fails.
func (s *scope) release(ctx context.Context) error {
	var errs []error
	for i := len(s.resources) - 1; i >= 0; i-- {
		res := s.resources[i]
		if err := res.release(ctx); err != nil {
			s.logger.Error("Resource release failed", err, loggingpkg.LogFields{"resource": res.name})
			errs = append(errs, errors.Wrapf(err, "release %s", res.name))
			continue
		}
		s.logger.Info("Resource released", loggingpkg.LogFields{"resource": res.name})
	}
	s.resources = nil
	return stderrors.Join(errs...)
}
