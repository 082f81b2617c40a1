package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/precip-etl/internal/domain"
)

// Stage names a pipeline operation that can be requested from the command line.
type Stage string

const (
	StageDownload  Stage = "download"
	StageTransform Stage = "transform"
	StageAnalyze   Stage = "analyze"
	StageAll       Stage = "all"
)

// Stages lists every valid stage in execution order.
var Stages = []Stage{StageDownload, StageTransform, StageAnalyze, StageAll}

// stageFunc runs one stage for one state.
type stageFunc func(p *Pipeline, ctx context.Context, state domain.State) error

var stageFuncs = map[Stage]stageFunc{
	StageDownload:  (*Pipeline).Download,
	StageTransform: (*Pipeline).Transform,
	StageAnalyze: func(p *Pipeline, ctx context.Context, state domain.State) error {
		_, err := p.Analyze(ctx, state)
		return err
	},
	StageAll: (*Pipeline).All,
}

// ParseStage validates a stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := stageFuncs[s]; !ok {
		return "", fmt.Errorf("unknown stage %q (valid: %s)", name, strings.Join(StageNames(), ", "))
	}
	return s, nil
}

// StageNames returns the valid stage names in execution order.
func StageNames() []string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = string(s)
	}
	return names
}
