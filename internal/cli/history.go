package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/chatrelay/internal/app"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the stored message log of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitErr(cmd, "load config", err)
	}

	store, _, err := app.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return exitErr(cmd, "open store", err)
	}
	defer store.Close()

	log, err := store.List(cmd.Context(), args[0])
	if err != nil {
		return exitErr(cmd, "list", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		return printJSON(out, log)
	}
	for _, m := range log {
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Text)
	}
	return nil
}
