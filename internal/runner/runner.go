// Package runner is the public entry point: it sequences decompose →
// parse → resolve → execute for one instruction, including the
// conditional and loop forms the decomposer produces.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/decompose"
	"github.com/polzovatel/stepwright/internal/executor"
	"github.com/polzovatel/stepwright/internal/grammar"
	"github.com/polzovatel/stepwright/internal/matcher"
	"github.com/polzovatel/stepwright/internal/parser"
)

// Runner executes natural-language instructions against a page.
type Runner struct {
	parser   *parser.Parser
	matcher  *matcher.Matcher
	executor *executor.Executor
	log      zerolog.Logger
}

func New(p *parser.Parser, m *matcher.Matcher, ex *executor.Executor, log zerolog.Logger) *Runner {
	return &Runner{
		parser:   p,
		matcher:  m,
		executor: ex,
		log:      log.With().Str("comp", "runner").Logger(),
	}
}

// Execute runs one instruction, which may decompose into several
// steps. Queries return their value, assertions return true, actions
// return nil; for compound instructions the last step's result is
// returned. Failures are errors, never return values.
func (r *Runner) Execute(ctx context.Context, page browser.Page, instruction string) (any, error) {
	runID := uuid.NewString()[:8]
	log := r.log.With().Str("run", runID).Logger()
	log.Info().Str("instruction", instruction).Msg("run started")

	result := decompose.Decompose(instruction)
	if !result.WasDecomposed {
		return r.runStep(ctx, log, page, instruction)
	}

	var last any
	for i, sub := range result.Steps {
		stepLog := log.With().Int("step", i+1).Logger()
		switch sub.Kind {
		case decompose.KindConditional:
			holds, err := r.checkCondition(ctx, page, sub)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", sub.Element, err)
			}
			if !holds {
				stepLog.Info().Str("condition", sub.Check).Str("element", sub.Element).Msg("condition not met, skipping")
				continue
			}
			val, err := r.runStep(ctx, stepLog, page, sub.Text)
			if err != nil {
				return nil, err
			}
			last = val
		case decompose.KindLoop:
			for iter := 0; iter < sub.Count; iter++ {
				val, err := r.runStep(ctx, stepLog, page, sub.Text)
				if err != nil {
					return nil, fmt.Errorf("iteration %d of %d: %w", iter+1, sub.Count, err)
				}
				last = val
			}
		default:
			val, err := r.runStep(ctx, stepLog, page, sub.Text)
			if err != nil {
				return nil, err
			}
			last = val
		}
	}
	return last, nil
}

func (r *Runner) runStep(ctx context.Context, log zerolog.Logger, page browser.Page, text string) (any, error) {
	step, err := r.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("intent", step.Intent).
		Str("category", string(step.Category)).
		Float64("confidence", step.Confidence).
		Msg("parsed")

	val, err := r.executor.Execute(ctx, page, step)
	if err != nil {
		log.Error().Err(err).Str("text", text).Msg("step failed")
		return nil, err
	}
	log.Info().Str("text", text).Msg("step done")
	return val, nil
}

// checkCondition probes the page state without throwing: an absent
// element simply means the condition reads false (or true when
// negated).
func (r *Runner) checkCondition(ctx context.Context, page browser.Page, sub decompose.SubInstruction) (bool, error) {
	probe := &grammar.ParsedStep{
		Category: grammar.CategoryQuery,
		Intent:   grammar.IntentGetText,
		Target:   grammar.TargetFromText(sub.Element),
		RawText:  sub.Element,
	}
	match, err := r.matcher.Find(ctx, page, probe)
	if err != nil {
		if errors.Is(err, matcher.ErrElementNotFound) {
			return sub.Negate, nil
		}
		return false, err
	}

	var state bool
	switch sub.Check {
	case "visible":
		state, err = match.Locator.IsVisible(ctx)
	case "present":
		state = true
	case "checked":
		state, err = match.Locator.IsChecked(ctx)
	case "enabled":
		state, err = match.Locator.IsEnabled(ctx)
	default:
		return false, fmt.Errorf("unknown condition check %q", sub.Check)
	}
	if err != nil {
		return false, err
	}
	if sub.Negate {
		return !state, nil
	}
	return state, nil
}
