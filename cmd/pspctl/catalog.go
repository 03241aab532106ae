package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"pspgateway/internal/model"
	"pspgateway/internal/service"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type catalogEntry struct {
	Name          string
	FixedFee      string
	PercentageFee string
}

// defaultCatalog 未指定 --name 时写入的初始目录
var defaultCatalog = []catalogEntry{
	{Name: "Stripe", FixedFee: "0.25", PercentageFee: "1.4"},
	{Name: "PayPal", FixedFee: "0.35", PercentageFee: "3.4"},
}

func seedCmd() *cobra.Command {
	var (
		name     string
		fixed    string
		pct      string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "新增或更新 PSP 目录条目",
		Long: `新增或更新 PSP 目录条目。

不带 --name 时写入默认目录（Stripe、PayPal）。

Examples:
  pspctl seed
  pspctl seed --name Adyen --fixed 0.10 --pct 1.2 --currency EUR`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := defaultCatalog
			if name != "" {
				entries = []catalogEntry{{Name: name, FixedFee: fixed, PercentageFee: pct}}
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			return seedCatalog(cmd.Context(), e.registry(), entries, currency, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "PSP 名称")
	cmd.Flags().StringVar(&fixed, "fixed", "0", "固定费用")
	cmd.Flags().StringVar(&pct, "pct", "0", "百分比费率")
	cmd.Flags().StringVar(&currency, "currency", model.DefaultCurrency, "币种")

	return cmd
}

func seedCatalog(ctx context.Context, registry *service.RegistryService, entries []catalogEntry, currency string, out io.Writer) error {
	for _, entry := range entries {
		fixedFee, err := decimal.NewFromString(entry.FixedFee)
		if err != nil {
			return fmt.Errorf("invalid fixed fee %q: %w", entry.FixedFee, err)
		}
		percentageFee, err := decimal.NewFromString(entry.PercentageFee)
		if err != nil {
			return fmt.Errorf("invalid percentage fee %q: %w", entry.PercentageFee, err)
		}

		psp, err := registry.Upsert(ctx, entry.Name, fixedFee, percentageFee, currency)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", psp.ID, psp.PSPName)
	}
	return nil
}

func deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate [psp-name]",
		Short: "停用 PSP，已开通的用户不受影响",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.registry().Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deactivated\n", args[0])
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出 PSP 目录",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			registry := e.registry()
			var psps []model.PSPCondition
			if all {
				psps, err = registry.ListAll(cmd.Context())
			} else {
				psps, err = registry.ListActive(cmd.Context())
			}
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), psps)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "包含已停用的条目")
	return cmd
}

func printCatalog(out io.Writer, psps []model.PSPCondition) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFIXED\tPERCENT\tCURRENCY\tACTIVE")
	for _, p := range psps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			p.ID, p.PSPName, p.FixedFee.String(), p.PercentageFee.String(), p.Currency, p.Active)
	}
	w.Flush()
}
