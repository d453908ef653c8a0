package cmd

import (
	"time"

	"github.com/pcloudkit/pcloud"
	"github.com/pcloudkit/pcloud/api"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// timeLayouts are tried in order when parsing --after
var timeLayouts = []string{
	time.RFC3339,
	api.TimeFormat,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime reads a time given on the command line
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("can't parse time %q, use RFC3339 like 2014-03-16T17:26:04Z", s)
}

// StreamFlags choose where the change log is read from
type StreamFlags struct {
	FromCursor uint64
	After      string
	Last       uint64

	explicit bool
}

// AddFlags registers the stream flags in flagSet
func (f *StreamFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.Uint64VarP(&f.FromCursor, "from-cursor", "", 0, "Start after this diffid")
	flagSet.StringVarP(&f.After, "after", "", "", "Start with events after this time, ignored with --from-cursor")
	flagSet.Uint64VarP(&f.Last, "last", "", 0, "Start with the last N events")
}

// Request builds a /diff request on c from the flags in flagSet and
// the global options
func (f *StreamFlags) Request(c *pcloud.Client, flagSet *pflag.FlagSet) (*pcloud.DiffRequest, error) {
	req := c.Diff().BlockTimeout(Opt.BlockTimeout)
	if Opt.Limit > 0 {
		req.Limit(Opt.Limit)
	}
	f.explicit = false
	if flagSet.Changed("from-cursor") {
		req.AfterDiffID(f.FromCursor)
		f.explicit = true
	}
	if f.After != "" {
		t, err := ParseTime(f.After)
		if err != nil {
			return nil, usageError{err}
		}
		req.After(t)
		f.explicit = true
	}
	if flagSet.Changed("last") {
		req.OnlyLast(f.Last)
		f.explicit = true
	}
	return req, nil
}

// Explicit reports whether the last Request was given a starting
// point on the command line
func (f *StreamFlags) Explicit() bool {
	return f.explicit
}
