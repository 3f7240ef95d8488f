package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showFormat string

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Inspect and manage stored chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
		for _, s := range store.List(cmd.Context()) {
			updated := "-"
			if !s.UpdatedAt.IsZero() {
				updated = s.UpdatedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, updated, s.Title)
		}
		return w.Flush()
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch showFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(record.Messages)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(record); err != nil {
				return err
			}
			return enc.Close()
		case "text":
			fmt.Fprintf(out, "# %s (%s)\n", record.Title, record.ID)
			for _, m := range record.Messages {
				fmt.Fprintf(out, "\n[%s]\n%s\n", m.Role, m.Content)
			}
			return nil
		default:
			return fmt.Errorf("unknown format %q: want text, json or yaml", showFormat)
		}
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	chatsShowCmd.Flags().StringVarP(&showFormat, "format", "f", "text", "output format: text, json or yaml")
	chatsCmd.AddCommand(chatsListCmd, chatsShowCmd, chatsDeleteCmd)
}
