package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/systemstart/many-flows/pkg/api"
)

// ErrFlowsFailed is returned by RunAll when at least one flow aborted.
var ErrFlowsFailed = errors.New("flow(s) failed")

// Filter narrows discovered flows. Empty fields match everything.
type Filter struct {
	IDs  []string
	Tags []string
}

// Match reports whether flow passes the filter: its id is listed (when IDs
// is set) and it carries at least one listed tag (when Tags is set).
func (f Filter) Match(flow *api.Flow) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, flow.ID) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range flow.Tags {
		if slices.Contains(f.Tags, tag) {
			return true
		}
	}
	return false
}

// DiscoverFlows loads every flow below root that passes filter and checks
// it against the library and registry.
func (r *Runner) DiscoverFlows(root string, filter Filter) ([]*api.Flow, error) {
	flows, err := api.DiscoverFlows(root)
	if err != nil {
		return nil, fmt.Errorf("discovering flows: %w", err)
	}

	selected := make([]*api.Flow, 0, len(flows))
	for _, flow := range flows {
		if !filter.Match(flow) {
			slog.Debug("flow filtered out", "flow", flow.ID, "path", flow.FilePath)
			continue
		}
		if err := flow.ValidateAgainst(r.Library, r.Registry.Has); err != nil {
			return nil, fmt.Errorf("validating %s: %w", flow.FilePath, err)
		}
		selected = append(selected, flow)
	}
	return selected, nil
}

// RunAll executes flows independently, at most parallel at a time (values
// below 1 mean one), and returns their results in input order. A failing
// flow never stops the others.
func (r *Runner) RunAll(ctx context.Context, flows []*api.Flow, parallel int) ([]*Result, error) {
	if len(flows) == 0 {
		r.logger().Warn("no flows to run")
		return nil, nil
	}
	if parallel < 1 {
		parallel = 1
	}

	r.logger().Info("running flows", "count", len(flows), "parallel", parallel)

	results := make([]*Result, len(flows))
	g := new(errgroup.Group)
	g.SetLimit(parallel)
	for i, flow := range flows {
		g.Go(func() error {
			res, err := r.Run(ctx, flow)
			results[i] = res
			if err != nil {
				r.logger().Error("flow failed", "flow", flow.ID, "path", flow.FilePath, "error", err)
			} else {
				r.logger().Info("flow succeeded", "flow", flow.ID, "path", flow.FilePath)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, res := range results {
		if res.Status != StatusCompleted {
			failed = append(failed, res.FlowID)
		}
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("%w: %d of %d: %v", ErrFlowsFailed, len(failed), len(flows), failed)
	}
	return results, nil
}
