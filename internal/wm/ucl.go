package wm

import (
	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/shell"
)

// uclProbeCmd distinguishes the UCL PBS dialect: their login nodes ship a
// jobhist utility that Imperial's do not.
const uclProbeCmd = "jobhist"

// UCL adapts the UCL clusters' PBS variant. The scheduler commands are the
// same as stock PBS; only capability detection differs today.
type UCL struct {
	*PBS
}

func NewUCL(ch shell.CommandChannel, log zerolog.Logger) *UCL {
	return &UCL{PBS: NewPBS(ch, log)}
}

func (u *UCL) Name() string { return "ucl" }
