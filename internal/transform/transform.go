// Package transform implements the filters applied between a database dump
// and its stored form: compression (gzip or zstd) and GPG encryption. A
// backup composes [compress, encrypt]; a restore reverses [decrypt,
// decompress]. Each step spools its output so arbitrarily large dumps never
// have to fit in memory.
package transform

import (
	"io"

	"appbackup/internal/config"
	"appbackup/internal/fs"
)

// Transform is one reversible step in the backup pipeline.
type Transform interface {
	// Name identifies the step in logs.
	Name() string
	// Suffix is appended to the artifact filename when the step is applied.
	Suffix() string
	// Apply runs the forward direction (backup) over src.
	Apply(src io.Reader) (*fs.Spool, error)
	// Reverse runs the backward direction (restore) over src.
	Reverse(src io.Reader) (*fs.Spool, error)
}

// Chain is an ordered list of transforms applied during backup and
// reversed during restore.
type Chain struct {
	steps []Transform
}

// NewChain builds a chain from the given steps, in forward order.
func NewChain(steps ...Transform) *Chain {
	return &Chain{steps: steps}
}

// ForBackup builds the forward chain selected by flags: compression first,
// then encryption, so the stored artifact is <name><compress-suffix><.gpg>.
func ForBackup(cfg *config.Config, compress, encrypt bool) (*Chain, error) {
	var steps []Transform
	if compress {
		c, err := NewCompression(cfg.CompressionFormat, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		steps = append(steps, c)
	}
	if encrypt {
		e, err := NewEncryption(cfg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, e)
	}
	return NewChain(steps...), nil
}

// ForRestore builds the chain whose Reverse undoes a backup made with the
// same flags. The chain is stored in forward order; Reverse walks it
// backwards (decrypt before decompress).
func ForRestore(cfg *config.Config, uncompress, decrypt bool) (*Chain, error) {
	return ForBackup(cfg, uncompress, decrypt)
}

// Suffix returns the concatenated filename suffixes of the chain, in
// application order.
func (c *Chain) Suffix() string {
	var s string
	for _, t := range c.steps {
		s += t.Suffix()
	}
	return s
}

// Len returns the number of steps in the chain.
func (c *Chain) Len() int {
	return len(c.steps)
}

// Apply runs every step forward over src. Intermediate spools are closed as
// soon as the next step has consumed them; the caller owns the returned
// spool. When the chain is empty the source is spooled unchanged.
func (c *Chain) Apply(src io.Reader) (*fs.Spool, error) {
	if len(c.steps) == 0 {
		return fs.SpoolFrom(src)
	}
	return c.run(src, false)
}

// Reverse runs every step backward over src, last step first.
func (c *Chain) Reverse(src io.Reader) (*fs.Spool, error) {
	if len(c.steps) == 0 {
		return fs.SpoolFrom(src)
	}
	return c.run(src, true)
}

func (c *Chain) run(src io.Reader, reverse bool) (*fs.Spool, error) {
	var (
		cur  io.Reader = src
		held *fs.Spool
	)
	for i := range c.steps {
		step := c.steps[i]
		if reverse {
			step = c.steps[len(c.steps)-1-i]
		}

		var (
			next *fs.Spool
			err  error
		)
		if reverse {
			next, err = step.Reverse(cur)
		} else {
			next, err = step.Apply(cur)
		}
		if held != nil {
			held.Close()
		}
		if err != nil {
			return nil, err
		}
		held = next
		cur = next
	}
	return held, nil
}
