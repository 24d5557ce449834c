package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/classify"
)

var (
	classifyPreview string
	classifyFrom    string
	classifyTo      []string
	classifyCc      []string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <subject>",
	Short: "Show how a message would be classified",
	Long: `Run the topic rules on a subject (and optionally a body preview and
sender) and print the topic, the rule that matched, and the derived company
and window.

Examples:
  mailtracker classify "[Widget] rev B drawings"
  mailtracker classify "Re: pricing" --from bob@acme-corp.com
  mailtracker classify "Invoice INV-9981" --to ann@contoso.com`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyPreview, "preview", "", "body preview text")
	classifyCmd.Flags().StringVar(&classifyFrom, "from", "", "sender address")
	classifyCmd.Flags().StringSliceVar(&classifyTo, "to", nil, "To recipient addresses")
	classifyCmd.Flags().StringSliceVar(&classifyCc, "cc", nil, "Cc recipient addresses")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	m := classify.New().Explain(args[0], classifyPreview, classifyFrom)

	fmt.Fprintf(out, "Topic:   %s\n", m.Topic)
	switch {
	case m.Rule != "":
		fmt.Fprintf(out, "Rule:    %s (matched %s)\n", m.Rule, m.Source)
	case m.Source == "sender":
		fmt.Fprintln(out, "Rule:    none (company of the sender)")
	default:
		fmt.Fprintln(out, "Rule:    none")
	}
	if classifyFrom != "" {
		fmt.Fprintf(out, "Company: %s\n", classify.DeriveCompany(classifyFrom))
		fmt.Fprintf(out, "Window:  %s\n", classify.DeriveWindow(classifyFrom, classifyTo, classifyCc))
	}
	return nil
}
