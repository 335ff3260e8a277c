package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/pgutils"
)

// errVersionRace means another writer inserted the version this write meant
// to insert. The caller reloads the head and tries again.
var errVersionRace = errors.New("graph: version already taken")

// isVersionRace classifies a unique violation on the version constraints of
// either versioned table.
func isVersionRace(err error) bool {
	if errors.Is(err, errVersionRace) {
		return true
	}
	if !pgutils.IsUniqueViolation(err) {
		return false
	}
	switch pgutils.ConstraintName(err) {
	case objectVersionKey, objectSupersedesKey, relationshipVersionKey, relationshipSupersedesKey:
		return true
	}
	return false
}

// withVersionRetry runs attempt until it succeeds, fails with something other
// than a version race, or has lost retries+1 races. attempt must reload the
// head itself on every call. Exhausting the budget surfaces ErrConflict.
func withVersionRetry(ctx context.Context, entity string, retries int, attempt func(ctx context.Context) error) error {
	var last error
	for i := 0; i <= retries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if !isVersionRace(err) {
			return err
		}
		last = err
		if i < retries {
			metrics.WriteRetries.WithLabelValues(entity).Inc()
		}
	}
	return apperror.ErrConflict.
		WithMessage(fmt.Sprintf("%s was modified concurrently; gave up after %d attempts", entity, retries+1)).
		WithInternal(last)
}
