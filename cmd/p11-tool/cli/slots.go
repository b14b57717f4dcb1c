package cli

import (
	"fmt"

	"github.com/matje/libp11/p11"
)

// SlotsCmd is the parent for slot commands
type SlotsCmd struct {
	List SlotsListCmd `cmd:"" help:"list slots and tokens"`
}

// SlotsListCmd prints slots and their tokens
type SlotsListCmd struct{}

// Run the command
func (a *SlotsListCmd) Run(ctx *Cli) error {
	p11ctx, err := ctx.Context()
	if err != nil {
		return err
	}

	out := ctx.Writer()

	printIfNotEmpty := func(label, val string) {
		if val != "" {
			fmt.Fprintf(out, "  %s: %s\n", label, val)
		}
	}

	for _, slot := range p11ctx.Slots() {
		fmt.Fprintf(out, "Slot: %d\n", slot.ID())
		printIfNotEmpty("Description", slot.Description)
		printIfNotEmpty("Manufacturer", slot.Manufacturer)
		if slot.Removable {
			fmt.Fprintf(out, "  Removable: true\n")
		}

		tok := slot.Token()
		if tok == nil {
			fmt.Fprintf(out, "  Token: none\n")
			continue
		}
		printIfNotEmpty("Token label", tok.Label)
		printIfNotEmpty("Token manufacturer", tok.Manufacturer)
		printIfNotEmpty("Token model", tok.Model)
		printIfNotEmpty("Token serial", tok.Serial)
		fmt.Fprintf(out, "  Flags: %s\n", tokenFlags(tok))
	}
	return nil
}

func tokenFlags(tok *p11.Token) string {
	flags := ""
	add := func(set bool, name string) {
		if set {
			if flags != "" {
				flags += ","
			}
			flags += name
		}
	}
	add(tok.Initialized, "initialized")
	add(tok.LoginRequired, "login-required")
	add(tok.SecureLogin, "secure-login")
	add(tok.UserPINSet, "user-pin-set")
	add(tok.ReadOnly, "read-only")
	add(tok.HasRNG, "rng")
	add(tok.UserPINLocked, "user-pin-locked")
	add(tok.UserPINFinalTry, "user-pin-final-try")
	add(tok.SOPINLocked, "so-pin-locked")
	if flags == "" {
		flags = "none"
	}
	return flags
}
