package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// contextNeeds lists the predecessor contexts each phase consumes.
var contextNeeds = map[registry.Phase][]registry.Phase{
	registry.PhasePlan:      {registry.PhaseSpecify},
	registry.PhaseTasks:     {registry.PhaseSpecify, registry.PhasePlan},
	registry.PhaseImplement: {registry.PhasePlan, registry.PhaseTasks},
	registry.PhaseVerify:    {registry.PhaseSpecify, registry.PhaseTasks},
}

// runContexts caches the phase contexts seen during one run.
type runContexts struct {
	store   *contextstore.Store
	logger  *logging.Logger
	feature string
	rebuild bool
	values  map[registry.Phase]contextstore.PhaseContext
}

func newRunContexts(store *contextstore.Store, logger *logging.Logger, feature string, rebuild bool) *runContexts {
	return &runContexts{
		store:   store,
		logger:  logger,
		feature: feature,
		rebuild: rebuild,
		values:  make(map[registry.Phase]contextstore.PhaseContext),
	}
}

// resolve fills the contexts phase needs, preferring values already held.
func (rc *runContexts) resolve(ctx context.Context, phase registry.Phase) {
	for _, need := range contextNeeds[phase] {
		if rc.values[need] != nil {
			continue
		}
		rc.values[need] = rc.fetch(ctx, need)
	}
}

// refresh replaces the held context of a phase that just completed.
func (rc *runContexts) refresh(ctx context.Context, phase registry.Phase) {
	if !contextstore.HasContext(phase) {
		return
	}
	rc.values[phase] = rc.fetch(ctx, phase)
}

// fetch rebuilds from Markdown when requested, else loads the envelope.
func (rc *runContexts) fetch(ctx context.Context, phase registry.Phase) contextstore.PhaseContext {
	if rc.store == nil {
		return nil
	}
	var (
		pc  contextstore.PhaseContext
		err error
	)
	if rc.rebuild {
		pc, err = rc.store.Rebuild(rc.feature, phase)
	} else {
		pc, err = rc.store.Load(ctx, rc.feature, phase)
	}
	if err != nil {
		rc.logger.Warn(ctx, "failed to resolve phase context",
			zap.String("context_phase", string(phase)),
			zap.Bool("rebuild", rc.rebuild),
			zap.Error(err))
		return nil
	}
	return pc
}

func (rc *runContexts) spec() *contextstore.SpecContext {
	c, _ := rc.values[registry.PhaseSpecify].(*contextstore.SpecContext)
	return c
}

func (rc *runContexts) plan() *contextstore.PlanContext {
	c, _ := rc.values[registry.PhasePlan].(*contextstore.PlanContext)
	return c
}

func (rc *runContexts) tasks() *contextstore.TaskContext {
	c, _ := rc.values[registry.PhaseTasks].(*contextstore.TaskContext)
	return c
}
