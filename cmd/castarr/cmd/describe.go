package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/castarr/internal/upnp"
)

var describeJSON bool

var describeCmd = &cobra.Command{
	Use:   "describe [description-url]",
	Short: "Show a renderer's device description",
	Long: `Fetch the device description of a renderer and list its services.

The URL defaults to renderer.url from the configuration. Described
renderers are remembered and listed by "castarr renderers".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDescribe,
}

var renderersCmd = &cobra.Command{
	Use:   "renderers",
	Short: "List remembered renderers",
	RunE:  runRenderers,
}

var renderersForgetCmd = &cobra.Command{
	Use:   "forget <description-url>",
	Short: "Forget a remembered renderer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRenderersForget,
}

func init() {
	describeCmd.Flags().BoolVar(&describeJSON, "json", false, "output the description as JSON")
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(renderersCmd)
	renderersCmd.AddCommand(renderersForgetCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Renderer.URL = args[0]
	}
	if err := cfg.Renderer.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := slog.Default()

	session, _, err := newRendererSession(cfg.Renderer, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	desc, err := session.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describing renderer: %w", err)
	}

	if st, err := openStore(ctx, cfg.Database, logger); err != nil {
		logger.Warn("renderer not remembered", slog.String("error", err.Error()))
	} else {
		st.rememberRenderer(ctx, session.DeviceURL(), desc, logger)
		_ = st.Close()
	}

	if describeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(desc.Device)
	}

	services, err := session.Services(ctx)
	if err != nil {
		return fmt.Errorf("listing services: %w", err)
	}
	printDescription(desc, services)
	return nil
}

func printDescription(desc *upnp.Description, services []upnp.Service) {
	d := desc.Device
	fmt.Printf("Name:         %s\n", d.FriendlyName)
	fmt.Printf("Type:         %s\n", d.DeviceType)
	fmt.Printf("Manufacturer: %s\n", d.Manufacturer)
	fmt.Printf("Model:        %s\n", d.ModelName)
	fmt.Printf("UDN:          %s\n", d.UDN)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONTROL URL")
	for _, svc := range services {
		fmt.Fprintf(w, "%s\t%s\n", svc.ServiceType, svc.ControlURL)
	}
	_ = w.Flush()
}

func runRenderers(cmd *cobra.Command, _ []string) error {
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

	renderers, err := st.renderers.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing renderers: %w", err)
	}
	if len(renderers) == 0 {
		if !cfg.Database.RendererHistory {
			fmt.Println("Renderer history is off. Set database.renderer_history to record renderers.")
			return nil
		}
		fmt.Println("No renderers remembered yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCASTS\tLAST CAST\tURL")
	for _, r := range renderers {
		last := "never"
		if r.LastCastAt != nil {
			last = r.LastCastAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.DisplayName(), r.CastCount, last, r.DescriptionURL)
	}
	return w.Flush()
}

func runRenderersForget(cmd *cobra.Command, args []string) error {
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

	known, err := st.renderers.GetByDescriptionURL(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reading renderer: %w", err)
	}
	if known == nil {
		return fmt.Errorf("renderer %q is not remembered", args[0])
	}
	if err := st.renderers.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("forgetting renderer: %w", err)
	}
	fmt.Printf("Forgot %s\n", known.DisplayName())
	return nil
}
