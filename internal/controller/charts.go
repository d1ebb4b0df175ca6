package controller

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/koustreak/edasync/internal/charts"
	"github.com/koustreak/edasync/internal/errs"
)

// FetchCharts shows the selected charts for filename. It does not call the
// backend when the panel already holds charts for that file. An empty
// filename means the current summary's file.
func (c *Controller) FetchCharts(ctx context.Context, filename string) ([]charts.Chart, error) {
	out, err := c.fetchCharts(ctx, c.chartTarget(filename), false)
	if err != nil {
		return nil, c.fail(err)
	}
	return out, nil
}

// RefreshCharts always re-requests the charts for filename.
func (c *Controller) RefreshCharts(ctx context.Context, filename string) ([]charts.Chart, error) {
	out, err := c.fetchCharts(ctx, c.chartTarget(filename), true)
	if err != nil {
		return nil, c.fail(err)
	}
	return out, nil
}

func (c *Controller) chartTarget(filename string) string {
	if filename != "" {
		return filename
	}
	return c.Current().Filename()
}

func (c *Controller) fetchCharts(ctx context.Context, filename string, force bool) ([]charts.Chart, error) {
	if filename == "" {
		return nil, errs.New(errs.ErrKindValidation, "Upload a file before requesting charts.")
	}

	if !force {
		c.mu.Lock()
		if c.page.Charts.Filename() == filename {
			cached := c.page.Charts.Charts()
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()
	}

	// The shared request outlives any single caller; each caller stops
	// waiting when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.chartCalls.DoChan(filename, func() (interface{}, error) {
		id := c.newID()
		set, err := c.api.Charts(flightCtx, id, filename, c.cfg.ChartLimit)
		if err != nil {
			return nil, err
		}
		for _, skip := range set.Skipped {
			c.log.WarnWith("skipping chart that failed to decode", nil, map[string]interface{}{
				"request_id": id,
				"chart":      skip,
			})
		}
		return charts.Select(set.Charts, c.cfg.ChartLimit), nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.ErrKindTimeout, "Request timed out.", ctx.Err())
		}
		return nil, errs.Wrap(errs.ErrKindTimeout, "Request was aborted.", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		c.log.ErrorWith("chart fetch failed", res.Err, map[string]interface{}{"filename": filename})
		return nil, res.Err
	}
	v, shared := res.Val, res.Shared
	selected := v.([]charts.Chart)

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current.Filename()
	if c.current != nil && cur != "" && cur != filename {
		c.log.Debugf("charts for %s arrived after %s replaced it", filename, cur)
		return selected, nil
	}
	c.page.Charts.Show(filename, selected)
	c.log.InfoWith("charts shown", map[string]interface{}{
		"filename": filename,
		"count":    len(selected),
		"shared":   shared,
	})
	return selected, nil
}
