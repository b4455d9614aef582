// Package transform runs ordered, pluggable transform chains over module
// sources and scans the results for imports.
//
// A Transform is any stage honouring the contract (source, file identity) ->
// (output, optional source map) | error. Chains are resolved from
// configuration once per build and identified by a hash of their stage
// identities, which is part of every cache key.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/errors"
)

// Input is the data handed to a stage.
type Input struct {
	// Path is the absolute file path of the module.
	Path   string
	Source []byte
	Map    []byte
}

// Output is the result of a stage.
type Output struct {
	Code []byte
	Map  []byte
}

// Transform is one stage of a chain.
type Transform interface {
	// Name is used in error reports.
	Name() string
	// Identity changes whenever the stage could produce different output
	// for the same input.
	Identity() string
	Apply(ctx context.Context, in Input) (Output, error)
}

// Chain is an ordered list of stages for one module kind.
type Chain struct {
	stages   []Transform
	identity string
}

// NewChain composes stages in order.
func NewChain(stages ...Transform) *Chain {
	h := sha256.New()
	for _, s := range stages {
		_, _ = h.Write([]byte(s.Identity()))
		_, _ = h.Write([]byte{0})
	}

	return &Chain{
		stages:   stages,
		identity: hex.EncodeToString(h.Sum(nil)),
	}
}

// Identity returns the hash of the stage identities.
func (c *Chain) Identity() string {
	return c.identity
}

// Stages returns the stages in order.
func (c *Chain) Stages() []Transform {
	return c.stages
}

// Run feeds in through every stage. Each stage runs on a context detached
// from ctx's cancellation but bounded by timeout, so a cancelled pass stops
// between stages rather than mid-stage. Overrunning the timeout is a fatal
// *errors.TransformError.
func (c *Chain) Run(ctx context.Context, in Input, timeout time.Duration) (Output, error) {
	out := Output{Code: in.Source, Map: in.Map}

	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}

		next, err := runStage(ctx, stage, Input{Path: in.Path, Source: out.Code, Map: out.Map}, timeout)
		if err != nil {
			return Output{}, err
		}
		if next.Map == nil {
			next.Map = out.Map
		}
		out = next
	}

	return out, nil
}

func runStage(ctx context.Context, stage Transform, in Input, timeout time.Duration) (Output, error) {
	stageCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, timeout)
		defer cancel()
	}

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := stage.Apply(stageCtx, in)
		done <- result{out, err}
	}()

	// Stages that ignore their context still cannot hold the pass past the
	// deadline; the goroutine is abandoned and its result discarded.
	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		if stageCtx.Err() == context.DeadlineExceeded {
			return Output{}, errors.NewTransformTimeout(in.Path, stage.Name(), r.err)
		}
		if errors.IsTransformError(r.err) {
			return Output{}, r.err
		}
		return Output{}, errors.NewTransformError(in.Path, stage.Name(), r.err)
	case <-stageCtx.Done():
		return Output{}, errors.NewTransformTimeout(in.Path, stage.Name(),
			fmt.Errorf("exceeded %s", timeout))
	}
}

// BuildChain resolves stage configuration into a chain.
func BuildChain(stages []config.StageConfig) (*Chain, error) {
	out := make([]Transform, 0, len(stages))
	for i, s := range stages {
		t, err := NewStage(s)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, t)
	}

	return NewChain(out...), nil
}

// NewStage creates a built-in stage from configuration.
func NewStage(s config.StageConfig) (Transform, error) {
	switch s.Type {
	case "esbuild":
		return NewEsbuildTransform(s.Target)
	case "json":
		return JSONTransform{}, nil
	case "command":
		return NewCommandTransform(s.Command, s.Args)
	case "passthrough":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown stage type %q", s.Type)
	}
}
