package cli

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xlog"
	"github.com/matje/libp11/p11"
)

var logger = xlog.NewPackageLogger("github.com/matje/libp11", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Version ctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Cfg      string `help:"Location of the PKCS#11 token config file" required:"" type:"path"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	tokenCfg p11.TokenConfig
	p11ctx   *p11.Context
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for error output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithContext allows to specify a pre-built token context, used in tests
func (c *Cli) WithContext(ctx *p11.Context) *Cli {
	c.p11ctx = ctx
	return c
}

// WithTokenConfig allows to specify a pre-built token config, used in tests
func (c *Cli) WithTokenConfig(cfg p11.TokenConfig) *Cli {
	c.tokenCfg = cfg
	return c
}

// AfterApply hook loads config
func (c *Cli) AfterApply(app *kong.Kong, vars kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		val := strings.TrimLeft(c.LogLevel, "=")
		l, err := xlog.ParseLevel(strings.ToUpper(val))
		if err != nil {
			return errors.WithStack(err)
		}
		xlog.SetGlobalLogLevel(l)
	}

	return nil
}

// Config loads the token config from the config file
func (c *Cli) Config() (p11.TokenConfig, error) {
	if c.tokenCfg != nil {
		return c.tokenCfg, nil
	}
	cfg, err := p11.LoadTokenConfig(c.Cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to load config: %s", c.Cfg)
	}
	c.tokenCfg = cfg
	return cfg, nil
}

// ConfigPin returns the PIN from the loaded config, if any
func (c *Cli) ConfigPin() string {
	if c.tokenCfg != nil {
		return c.tokenCfg.Pin()
	}
	return ""
}

// Context loads the token context from the config file
func (c *Cli) Context() (*p11.Context, error) {
	if c.p11ctx != nil {
		return c.p11ctx, nil
	}
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	c.p11ctx, err = p11.Load(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to load PKCS#11 module: %s", cfg.Path())
	}
	return c.p11ctx, nil
}

// CurrentSlot returns the slot matching the flags, falling back to the
// config's token serial/label, or the best looking token when neither
// names one.
func (c *Cli) CurrentSlot(serial, label string) (*p11.Slot, error) {
	ctx, err := c.Context()
	if err != nil {
		return nil, err
	}
	if serial == "" && label == "" && c.tokenCfg != nil {
		serial = c.tokenCfg.TokenSerial()
		label = c.tokenCfg.TokenLabel()
	}
	if serial != "" || label != "" {
		return ctx.FindSlot(serial, label)
	}
	slot := p11.FindToken(ctx.Slots())
	if slot == nil {
		return nil, errors.New("no token found")
	}
	return slot, nil
}
