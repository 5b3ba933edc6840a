package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// progressBar is the subset of schollz/progressbar's API this command
// uses, so a non-terminal run (CI, piped output) can swap in a no-op.
type progressBar interface {
	Add(n int)
	Close() error
}

type noopProgressBar struct{}

func (noopProgressBar) Add(int) {}
func (noopProgressBar) Close() error { return nil }

func newTermProgressBar(total int, description string) progressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}
