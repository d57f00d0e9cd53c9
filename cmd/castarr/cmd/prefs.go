package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/castarr/internal/models"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect or reset persisted preferences",
	Long: `Preferences persist across cast sessions. Answering "OK, don't warn me
again" to the conversion warning stores show_perf_warning=false.`,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored preferences",
	RunE:  runPrefsShow,
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Delete one preference, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPrefsReset,
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsResetCmd)
}

func runPrefsShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	prefs, err := st.prefs.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing preferences: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	stored := false
	for _, p := range prefs {
		fmt.Fprintf(w, "%s\t%s\n", p.Key, p.Value)
		if p.Key == models.PrefShowPerfWarning {
			stored = true
		}
	}
	if !stored {
		fmt.Fprintf(w, "%s\t(default: true)\n", models.PrefShowPerfWarning)
	}
	return w.Flush()
}

func runPrefsReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		found, err := st.prefs.Delete(ctx, args[0])
		if err != nil {
			return fmt.Errorf("deleting preference: %w", err)
		}
		if !found {
			return fmt.Errorf("preference %q is not set", args[0])
		}
		fmt.Printf("Reset %s\n", args[0])
		return nil
	}

	n, err := st.prefs.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("deleting preferences: %w", err)
	}
	fmt.Printf("Reset %d preference(s)\n", n)
	return nil
}
