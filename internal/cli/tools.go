// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/d-gangz/glowing-braintrust/internal/tools"
	"github.com/spf13/cobra"
)

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Call the calculator and weather tools",
	}
	cmd.AddCommand(newCalcCmd(), newWeatherCmd(a), newDescribeCmd())
	return cmd
}

func newCalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calc <add|subtract|multiply|divide> <a> <b>",
		Short: "Apply a basic arithmetic operation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid number %q", args[1])
			}
			b, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid number %q", args[2])
			}

			result, err := tools.Calculate(tools.Op(args[0]), a, b)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(result, 'g', -1, 64))
			return nil
		},
	}
}

func newWeatherCmd(a *app) *cobra.Command {
	req := tools.WeatherRequest{}
	cmd := &cobra.Command{
		Use:   "weather <city> <country-code>",
		Short: "Look up the current weather for a city",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.City, req.CountryCode = args[0], args[1]

			client := tools.NewWeatherClient(tools.WeatherConfig{
				APIKey:  a.cfg.OpenWeatherAPIKey,
				BaseURL: a.cfg.OpenWeatherAPIURL,
				Logger:  a.logger,
			})
			weather, failure := client.Current(cmd.Context(), req)
			if failure != nil {
				if err := printJSON(cmd.OutOrStdout(), failure); err != nil {
					return err
				}
				return fmt.Errorf("weather lookup failed: %s", failure.Error)
			}
			return printJSON(cmd.OutOrStdout(), weather)
		},
	}
	cmd.Flags().StringVar(&req.Units, "units", "metric", "standard, metric or imperial")
	cmd.Flags().StringVar(&req.Lang, "lang", "en", "language of the description")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the tool definitions registered with the prompt service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), tools.Definitions())
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
