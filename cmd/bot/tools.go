package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"quant-grid-bot-go/internal/downloader"
	"quant-grid-bot-go/internal/logger"
	"quant-grid-bot-go/internal/strategy"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "download spot klines into a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol, e.g. BTCUSDT", Required: true},
			&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Usage: "kline interval", Value: "1h"},
			dateFlag("start", "first day", true),
			dateFlag("end", "last day", true),
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output CSV path (default: data/<symbol>-<interval>-<start>-<end>.csv)"},
			&cli.StringFlag{Name: "base-url", Usage: "REST base URL", Value: "https://api.binance.com"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			symbol, interval := cmd.String("symbol"), cmd.String("interval")
			start, end := cmd.Timestamp("start"), cmd.Timestamp("end")
			out := cmd.String("output")
			if out == "" {
				out = filepath.Join("data", fmt.Sprintf("%s-%s-%s-%s.csv",
					symbol, interval, start.Format(dateLayout), end.Format(dateLayout)))
			}
			d := downloader.NewKlineDownloader(cmd.String("base-url"), logger.L())
			if err := d.DownloadKlines(ctx, symbol, interval, out, start, end); err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "list the strategy catalogue, or print the params JSON schema of one strategy",
		ArgsUsage: "[strategy]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if name := cmd.Args().First(); name != "" {
				def, ok := strategy.Lookup(name)
				if !ok {
					return fmt.Errorf("未知的策略: %s", name)
				}
				schema, err := def.Schema()
				if err != nil {
					return err
				}
				fmt.Println(schema)
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.SetTitle("策略目录")
			t.AppendHeader(table.Row{"名称", "类别", "类型", "说明"})
			for _, d := range strategy.Catalogue() {
				t.AppendRow(table.Row{d.Name, d.Category, d.Kind, d.Description})
			}
			t.Render()
			return nil
		},
	}
}
