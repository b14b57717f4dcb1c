package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/errors"
)

// RandCmd generates random bytes on the token
type RandCmd struct {
	Bytes  int    `default:"32" help:"number of random bytes"`
	Seed   string `help:"hex-encoded seed material (optional)"`
	Serial string `help:"slot token serial (optional)"`
	Label  string `help:"slot token label (optional)"`
}

// Run the command
func (a *RandCmd) Run(ctx *Cli) error {
	slot, err := ctx.CurrentSlot(a.Serial, a.Label)
	if err != nil {
		return err
	}
	tok := slot.Token()
	if tok != nil && !tok.HasRNG {
		return errors.Newf("token on slot %d has no RNG", slot.ID())
	}

	if a.Seed != "" {
		seed, err := hex.DecodeString(a.Seed)
		if err != nil {
			return errors.WithMessage(err, "invalid seed")
		}
		if err := slot.SeedRandom(seed); err != nil {
			return err
		}
	}

	buf, err := slot.GenerateRandom(a.Bytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Writer(), "%s\n", hex.EncodeToString(buf))
	return nil
}
