package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/matje/libp11/p11"
)

// TokenCmd is the parent for token commands
type TokenCmd struct {
	Info      TokenInfoCmd      `cmd:"" help:"print token information"`
	Find      TokenFindCmd      `cmd:"" help:"find the most usable token"`
	Init      TokenInitCmd      `cmd:"" help:"initialize a token"`
	InitPin   TokenInitPinCmd   `cmd:"" help:"set the user PIN"`
	ChangePin TokenChangePinCmd `cmd:"" help:"change the PIN"`
}

// TokenInfoCmd prints the token info
type TokenInfoCmd struct {
	Serial string `help:"slot token serial (optional)"`
	Label  string `help:"slot token label (optional)"`
}

// Run the command
func (a *TokenInfoCmd) Run(ctx *Cli) error {
	slot, err := ctx.CurrentSlot(a.Serial, a.Label)
	if err != nil {
		return err
	}
	// fresh flags, not the enumeration-time snapshot
	if err := slot.CheckToken(); err != nil {
		return err
	}
	tok := slot.Token()
	if tok == nil {
		return errors.Newf("no token in slot %d", slot.ID())
	}

	out := ctx.Writer()
	fmt.Fprintf(out, "Slot: %d\n", slot.ID())
	fmt.Fprintf(out, "  Label: %s\n", tok.Label)
	fmt.Fprintf(out, "  Manufacturer: %s\n", tok.Manufacturer)
	fmt.Fprintf(out, "  Model: %s\n", tok.Model)
	fmt.Fprintf(out, "  Serial: %s\n", tok.Serial)
	fmt.Fprintf(out, "  Flags: %s\n", tokenFlags(tok))
	return nil
}

// TokenFindCmd prints the most usable token
type TokenFindCmd struct{}

// Run the command
func (a *TokenFindCmd) Run(ctx *Cli) error {
	p11ctx, err := ctx.Context()
	if err != nil {
		return err
	}
	slot := p11.FindToken(p11ctx.Slots())
	if slot == nil {
		return errors.New("no token found")
	}
	tok := slot.Token()
	fmt.Fprintf(ctx.Writer(), "Slot: %d, label: %s, serial: %s\n", slot.ID(), tok.Label, tok.Serial)
	return nil
}

// TokenInitCmd provisions a fresh token
type TokenInitCmd struct {
	SoPin  string `required:"" help:"security officer PIN"`
	Label  string `help:"token label"`
	Serial string `help:"slot token serial (optional)"`
}

// Run the command
func (a *TokenInitCmd) Run(ctx *Cli) error {
	slot, err := ctx.CurrentSlot(a.Serial, "")
	if err != nil {
		return err
	}
	if err := slot.InitToken(a.SoPin, a.Label); err != nil {
		return err
	}
	// InitToken does not refresh cached state
	if err := slot.CheckToken(); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Writer(), "initialized token on slot %d\n", slot.ID())
	return nil
}

// TokenInitPinCmd sets the user PIN; requires SO login
type TokenInitPinCmd struct {
	SoPin  string `required:"" help:"security officer PIN"`
	Pin    string `help:"new user PIN, defaults to the configured PIN"`
	Serial string `help:"slot token serial (optional)"`
	Label  string `help:"slot token label (optional)"`
}

// Run the command
func (a *TokenInitPinCmd) Run(ctx *Cli) error {
	slot, err := ctx.CurrentSlot(a.Serial, a.Label)
	if err != nil {
		return err
	}
	pin := a.Pin
	if pin == "" {
		pin = ctx.ConfigPin()
	}
	if pin == "" {
		return errors.New("no user PIN: provide --pin or configure one")
	}
	if err := slot.Login(p11.PrincipalSecurityOfficer, a.SoPin); err != nil {
		return err
	}
	defer func() {
		if err := slot.Logout(); err != nil {
			logger.Warningf("reason=logout, slot=%d, err=[%v]", slot.ID(), err)
		}
	}()
	if err := slot.InitPIN(pin); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Writer(), "user PIN set on slot %d\n", slot.ID())
	return nil
}

// TokenChangePinCmd changes the user PIN
type TokenChangePinCmd struct {
	OldPin string `help:"current PIN, defaults to the configured PIN"`
	NewPin string `required:"" help:"new PIN"`
	Serial string `help:"slot token serial (optional)"`
	Label  string `help:"slot token label (optional)"`
}

// Run the command
func (a *TokenChangePinCmd) Run(ctx *Cli) error {
	slot, err := ctx.CurrentSlot(a.Serial, a.Label)
	if err != nil {
		return err
	}
	oldPin := a.OldPin
	if oldPin == "" {
		oldPin = ctx.ConfigPin()
	}
	if oldPin == "" {
		return errors.New("no current PIN: provide --old-pin or configure one")
	}
	if err := slot.Login(p11.PrincipalUser, oldPin); err != nil {
		return err
	}
	defer func() {
		if err := slot.Logout(); err != nil {
			logger.Warningf("reason=logout, slot=%d, err=[%v]", slot.ID(), err)
		}
	}()
	if err := slot.ChangePIN(oldPin, a.NewPin); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Writer(), "PIN changed on slot %d\n", slot.ID())
	return nil
}
