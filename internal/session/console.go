package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	pricing "serramenti/internal/pricing/domain"
)

const consoleHelp = `commands:
  frame <id>                     select a frame
  size <width> <height>          set measures in millimetres
  material <category> <option> [qty]
  material <category> -          drop a category
  rates <id>                     price with a specific rate table
  price                          calculate the current configuration
  show                           print the session
  save                           save now instead of waiting
  reset                          back to defaults
  quit`

// Console drives a session from line commands.
type Console struct {
	session   *Session
	autosaver *Autosaver
	calc      Calculator
}

// NewConsole builds a console. autosaver may be nil, then "save" is refused.
func NewConsole(s *Session, autosaver *Autosaver, calc Calculator) (*Console, error) {
	if s == nil {
		return nil, errors.New("console: nil session")
	}
	if calc == nil {
		return nil, errors.New("console: nil calculator")
	}
	return &Console{session: s, autosaver: autosaver, calc: calc}, nil
}

// Run reads commands until quit, EOF or ctx is done. Pending saves are
// flushed before returning.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer c.flush()
	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := c.exec(fields, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func (c *Console) exec(fields []string, out io.Writer) error {
	args := fields[1:]
	switch fields[0] {
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "frame":
		if len(args) != 1 {
			return errors.New("usage: frame <id>")
		}
		if err := c.session.SetFrame(args[0]); err != nil {
			return err
		}
		c.printView(out)
	case "size":
		if len(args) != 2 {
			return errors.New("usage: size <width> <height>")
		}
		width, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("width: %w", err)
		}
		height, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("height: %w", err)
		}
		if err := c.session.SetMeasures(width, height); err != nil {
			return err
		}
		c.printView(out)
	case "material":
		return c.material(args)
	case "rates":
		if len(args) != 1 {
			return errors.New("usage: rates <id>")
		}
		c.session.SetRateTable(args[0])
	case "price":
		c.printPrice(out)
	case "show":
		c.printView(out)
	case "save":
		if c.autosaver == nil {
			return errors.New("autosave is not configured")
		}
		c.autosaver.Flush()
		c.printView(out)
	case "reset":
		c.session.Reset()
		c.printView(out)
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func (c *Console) material(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: material <category> <option> [qty]")
	}
	selection := c.session.View().Materials
	if selection == nil {
		selection = make(pricing.MaterialsSelection)
	}
	if args[1] == "-" {
		delete(selection, args[0])
		c.session.SetMaterials(selection)
		return nil
	}
	sel := pricing.Selection{OptionID: args[1]}
	if len(args) == 3 {
		qty, err := strconv.Atoi(args[2])
		if err != nil || qty <= 0 {
			return fmt.Errorf("quantity must be a positive integer, got %q", args[2])
		}
		sel.Quantity = qty
	}
	selection[args[0]] = sel
	c.session.SetMaterials(selection)
	return nil
}

func (c *Console) printView(out io.Writer) {
	v := c.session.View()
	frame := v.FrameID
	if frame == "" {
		frame = "(none)"
	}
	fmt.Fprintf(out, "frame %s  %d x %d mm  area %s m2  perimeter %s m  [%s]\n",
		frame, v.Width, v.Height, v.Area.StringFixed(3), v.Perimeter.StringFixed(3), v.State())
	for _, w := range v.Warnings {
		fmt.Fprintf(out, "  clamped %s %d -> %d (%s)\n", w.Side, w.Requested, w.Applied, w.Limit)
	}
	if v.DraftID != "" {
		fmt.Fprintf(out, "  draft %s saved %s\n", v.DraftID, v.LastSaved.Format("15:04:05"))
	}
	if v.LastSaveError != "" {
		fmt.Fprintf(out, "  last save failed: %s\n", v.LastSaveError)
	}
}

func (c *Console) printPrice(out io.Writer) {
	result := c.calc.Calculate(c.session.Snapshot().Request)
	if !result.Success {
		fmt.Fprintf(out, "error: %v\n", result.Err())
		return
	}
	places := result.Places()
	for _, item := range result.LineItems {
		fmt.Fprintf(out, "  %-10s %-24s %10s x %-8s = %10s\n",
			item.Kind, item.Code, item.UnitRate.String(), item.Quantity.StringFixed(3), item.LineTotal.StringFixed(places))
	}
	if !result.RoundingDelta.IsZero() {
		fmt.Fprintf(out, "  rounding %s\n", result.RoundingDelta.String())
	}
	fmt.Fprintf(out, "total %s %s\n", result.Total.StringFixed(places), result.Currency)
}

func (c *Console) flush() {
	if c.autosaver != nil {
		c.autosaver.Flush()
	}
}
