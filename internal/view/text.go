package view

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	labelColor   = color.New(color.FgCyan, color.Bold)
	headerColor  = color.New(color.Bold)
	statusColors = map[Level]*color.Color{
		LevelInfo:    color.New(color.FgBlue),
		LevelSuccess: color.New(color.FgGreen),
		LevelWarning: color.New(color.FgYellow),
		LevelError:   color.New(color.FgRed, color.Bold),
	}
)

// TextOptions selects which sections WriteText prints.
type TextOptions struct {
	Table   bool
	Preview bool
	Charts  bool
}

// AllSections prints everything.
var AllSections = TextOptions{Table: true, Preview: true, Charts: true}

// WriteText renders a snapshot for a terminal. Colour follows
// color.NoColor, which is off when stdout is not a TTY.
func WriteText(w io.Writer, snap PageSnapshot, opts TextOptions) error {
	ew := &errWriter{w: w}

	if snap.Status.Message != "" {
		c := statusColors[snap.Status.Level]
		if c == nil {
			c = statusColors[LevelInfo]
		}
		ew.printf("%s\n\n", c.Sprint(snap.Status.Message))
	}

	for _, card := range snap.Cards {
		line := fmt.Sprintf("%-16s %s", labelColor.Sprint(card.Label), card.Value)
		if card.Hint != "" {
			line += " (" + card.Hint + ")"
		}
		ew.printf("%s\n", line)
	}

	if opts.Table {
		ew.printf("\n%s", headerColor.Sprint("Columns"))
		if snap.Table.Filter != "" {
			ew.printf(" (filter %q: %d of %d)", snap.Table.Filter, len(snap.Table.Rows), snap.Table.Total)
		}
		ew.printf("\n")

		tw := tabwriter.NewWriter(ew, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLUMN\tTYPE\tMISSING\tUNIQUE\tMEAN\tMEDIAN\tMODE\tSTD")
		for _, r := range snap.Table.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Column, r.Type,
				strconv.FormatInt(r.Missing, 10), strconv.FormatInt(r.Unique, 10),
				r.Mean, r.Median, r.Mode, r.StdDev)
		}
		_ = tw.Flush()
	}

	if opts.Preview && len(snap.Preview.Columns) > 0 {
		ew.printf("\n%s\n", headerColor.Sprint("Sample data"))
		tw := tabwriter.NewWriter(ew, 2, 4, 2, ' ', 0)
		for i, c := range snap.Preview.Columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
		for _, row := range snap.Preview.Rows {
			for i, cell := range row {
				if i > 0 {
					fmt.Fprint(tw, "\t")
				}
				fmt.Fprint(tw, cell)
			}
			fmt.Fprintln(tw)
		}
		_ = tw.Flush()
	}

	if opts.Charts && len(snap.Charts) > 0 {
		ew.printf("\n%s (%s)\n", headerColor.Sprint("Charts"), snap.ChartsFor)
		for i, c := range snap.Charts {
			ew.printf("  %d. %s [%s]\n", i+1, c.Title, c.ID)
		}
	}

	return ew.err
}

// errWriter keeps the first write error so the renderer can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(e, format, args...)
}
