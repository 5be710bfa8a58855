package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/mcp"
)

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single transaction against each PDP",
		Long: `Build one event from the flags and show how every configured PDP
decides it. Each PDP starts fresh; --identity-trust and --device-trust
set the adaptive PDP's starting trust.

Examples:
  pdpsim evaluate --service payments --amount 25000
  pdpsim evaluate --service aml --amount 4000 --geo RU --hour 3 --channel api
  pdpsim evaluate --service payments --amount 100 --identity-trust 0.2 --pdps securebank`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			in, err := evaluateInput(cmd)
			if err != nil {
				return err
			}
			out, err := mcp.Evaluate(cfg, in)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out.Decisions))
			for _, d := range out.Decisions {
				trust := "-"
				if d.Trust != nil {
					trust = fmt.Sprintf("I %.3f→%.3f, D %.3f→%.3f",
						d.Trust.IdentityBefore, d.Trust.IdentityAfter, d.Trust.DeviceBefore, d.Trust.DeviceAfter)
				}
				rows = append(rows, []string{
					d.PDP, d.Action, d.Reason,
					fmt.Sprintf("%.3f", d.Risk), optFloat(d.Theta), optFloat(d.DeviceScore),
					strings.Join(d.Factors, ","), trust,
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"PDP", "Action", "Reason", "Risk", "Theta", "Device", "Factors", "Trust"}, rows)
		},
	}

	cmd.Flags().String("service", "", "Target service (required)")
	cmd.Flags().Float64("amount", 0, "Transaction amount")
	cmd.Flags().String("user-type", "customer", "customer or employee")
	cmd.Flags().Float64("base-risk", 0, "Prior user risk in [0,1]")
	cmd.Flags().String("geo", "BR-SP", "Geo code")
	cmd.Flags().Int("hour", 12, "Hour of day 0..23")
	cmd.Flags().String("channel", "web", "web, mobile or api")
	cmd.Flags().Float64("identity-trust", 0, "Starting identity trust of the adaptive PDP")
	cmd.Flags().Float64("device-trust", 0, "Starting device trust of the adaptive PDP")
	cmd.Flags().StringSlice("pdps", nil, "PDPs to evaluate (default from config)")
	cmd.Flags().String("calibration", "", "Adaptive calibration preset: hard or balanced")
	cmd.Flags().Int64("seed", 0, "Seed of stochastic PDPs")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}

func evaluateInput(cmd *cobra.Command) (mcp.EvaluateInput, error) {
	f := cmd.Flags()
	in := mcp.EvaluateInput{}
	in.Service, _ = f.GetString("service")
	in.Amount, _ = f.GetFloat64("amount")
	in.UserType, _ = f.GetString("user-type")
	in.BaseRisk, _ = f.GetFloat64("base-risk")
	in.Geo, _ = f.GetString("geo")
	in.Hour, _ = f.GetInt("hour")
	in.Channel, _ = f.GetString("channel")
	in.PDPs, _ = f.GetStringSlice("pdps")
	in.Calibration, _ = f.GetString("calibration")
	in.Seed, _ = f.GetInt64("seed")

	for _, name := range []string{"identity-trust", "device-trust"} {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetFloat64(name)
		if err != nil {
			return in, err
		}
		if name == "identity-trust" {
			in.IdentityTrust = &v
		} else {
			in.DeviceTrust = &v
		}
	}
	return in, nil
}
