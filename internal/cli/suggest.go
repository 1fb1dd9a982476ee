// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/d-gangz/glowing-braintrust/internal/chains"
	"github.com/d-gangz/glowing-braintrust/internal/stream"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// sampleGuestInput is the demo conversation used when no input file is given.
var sampleGuestInput = chains.SuggestedResponseInput{
	Salutation: "Ms.",
	LastName:   "Chan",
	Conversation: "[2025-01-03 13:45:03] Guest: 澄雲吃啥啊\n" +
		"[2025-01-03 13:48:15] Guest: 澄雲吃什麼啊\n" +
		"[2025-01-03 13:53:17] You: 下午好，Ms. Chan。澄雲提供單點菜單以供選擇。您可以在我們的Manor Club享用。若您需要更多資訊或協助，請隨時告訴我們。\n" +
		"[2025-01-03 18:01:37] Guest: 澄云供应哪种类型的食物？\n" +
		"[2025-01-03 18:02:19] You: 晚上好，Ms. Chan。澄云提供单点菜单，您可以在我们的Manor Club享用。若您需要更多信息或协助，请随时告知我们。\n" +
		"[2025-01-05 13:26:42] Guest: What should I have for lunch at your hotel?\n" +
		"[2025-01-05 13:27:13] You: Good afternoon, Ms. Chan. For lunch at our hotel, you have a variety of options to choose from. " +
		"You can enjoy a la carte dining at the Manor Club on the 40th floor, or explore our diverse restaurant offerings on Level 5, " +
		"including The Legacy House for refined Cantonese cuisine, Henry for American grill, Bayfare Social for Spanish tapas, " +
		"Chaat for Indian cuisine, and XX for Western dishes. Additionally, on Level G, Blu House offers casual Italian cuisine, " +
		"and MARMO Bistro serves French classics. Please let us know if you would like more information or assistance with reservations.\n" +
		"[2025-01-06 17:59:14] Guest: when the pool open?\n",
	CurrentDateTime:        "2025-01-06 17:59:26",
	UnitOpenIssuesMaxLimit: "4 hours",
}

func newSuggestCmd(a *app) *cobra.Command {
	var inputFile string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Stream a suggested reply to a guest conversation",
		Long: `suggest runs the suggested-response chain and prints the reply as it
streams. --input-file takes a YAML document with salutation, last_name,
conversation, current_date_time and unit_open_issues_max_limit; without it a
sample conversation is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := sampleGuestInput
			if inputFile != "" {
				loaded, err := readSuggestInput(inputFile)
				if err != nil {
					return err
				}
				in = loaded
			}
			return a.runSuggest(cmd, in)
		},
	}
	cmd.Flags().StringVar(&inputFile, "input-file", "", "YAML file with the guest conversation")
	return cmd
}

func (a *app) runSuggest(cmd *cobra.Command, in chains.SuggestedResponseInput) error {
	be, err := a.newBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	c, err := chains.SuggestedResponse(chains.Deps{Invoker: be.Invoker, Logger: a.logger})
	if err != nil {
		return err
	}

	res, err := c.Run(cmd.Context(), in.Input())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	agg := stream.FromResult(res)
	defer agg.Close()

	fmt.Fprintln(out, "Streaming suggested response:")
	for fragment, err := range agg.Fragments() {
		if err != nil {
			fmt.Fprintln(out)
			return fmt.Errorf("suggested response stream: %w", err)
		}
		fmt.Fprint(out, fragment)
	}
	fmt.Fprintln(out)
	return nil
}

func readSuggestInput(path string) (chains.SuggestedResponseInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return chains.SuggestedResponseInput{}, fmt.Errorf("read input %s: %w", path, err)
	}
	var in chains.SuggestedResponseInput
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return chains.SuggestedResponseInput{}, fmt.Errorf("parse input %s: %w", path, err)
	}
	if in.Conversation == "" {
		return chains.SuggestedResponseInput{}, errors.New("input needs a conversation")
	}
	return in, nil
}
