package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	catalog "serramenti/internal/catalog/domain"
	pricing "serramenti/internal/pricing/domain"
	"serramenti/internal/pricing/interfaces/batch"
)

func framesCommand() *cli.Command {
	return &cli.Command{
		Name:  "frames",
		Usage: "list the frame catalog",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			frames := eng.frames.List()
			if c.Bool("json") {
				return printJSON(frames)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tOPENING\tPANELS\tWIDTH\tHEIGHT")
			for _, f := range frames {
				width := f.Sides[catalog.SideWidth]
				height := f.Sides[catalog.SideHeight]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d-%d\t%d-%d\n",
					f.ID, f.Category, f.OpeningType, f.PanelCount(),
					width.Minimum, width.Maximum, height.Minimum, height.Maximum)
			}
			return w.Flush()
		},
	}
}

func calculateCommand() *cli.Command {
	return &cli.Command{
		Name:      "calculate",
		Usage:     "price one configuration",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "frame", Aliases: []string{"f"}, Required: true},
			&cli.IntFlag{Name: "width", Aliases: []string{"w"}, Required: true, Usage: "millimetres"},
			&cli.IntFlag{Name: "height", Aliases: []string{"H"}, Required: true, Usage: "millimetres"},
			&cli.StringFlag{Name: "materials", Aliases: []string{"m"}, Usage: `e.g. "glass=triple;handle=steel*2"`},
			&cli.StringFlag{Name: "rate-table", Usage: "rate table id, default table when empty"},
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			materials, err := batch.ParseMaterials(c.String("materials"))
			if err != nil {
				return err
			}
			result := eng.calc.Calculate(pricing.CalculationRequest{
				FrameID:     c.String("frame"),
				Width:       c.Int("width"),
				Height:      c.Int("height"),
				Materials:   materials,
				RateTableID: c.String("rate-table"),
			})
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success {
				return cli.Exit(result.Err(), 2)
			}
			return nil
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "price every row of a CSV and write a report",
		Description: "The CSV needs the columns ref, frame_id, width and height; materials and\n" +
			"rate_table are optional. The report format follows the --out extension.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Required: true, Usage: "input CSV, - for stdin"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "-", Usage: "report path (.json or .xlsx), - for stdout"},
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			in := os.Stdin
			if path := c.String("in"); path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			rows, err := batch.ParseCSV(in)
			if err != nil {
				return err
			}
			report := batch.Run(eng.calc, rows, time.Now())
			eng.logger.Info().Int("priced", report.Priced).Int("failed", report.Failed).Msg("batch done")

			out := c.String("out")
			if out == "-" {
				return batch.WriteJSON(os.Stdout, report)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			switch {
			case strings.HasSuffix(strings.ToLower(out), ".xlsx"):
				err = batch.WriteXLSX(f, report)
			case strings.HasSuffix(strings.ToLower(out), ".json"):
				err = batch.WriteJSON(f, report)
			default:
				err = errors.New("report path must end in .json or .xlsx")
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d priced, %d failed -> %s\n", report.Priced, report.Failed, out)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
