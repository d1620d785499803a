package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/intake"
	"github.com/tripbundle/tripbundle/internal/observability"
	"github.com/tripbundle/tripbundle/internal/output"
)

var (
	planFile         string
	planFormat       string
	planOut          string
	planObjective    string
	planAllowDomains []string
	planDenyDomains  []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a trip from a request file",
	Long: `Plan a trip from a YAML or JSON request file and print the ranked bundles.

Use --file - to read the request from stdin. Per-run API keys can be passed
with --openai-key and --tavily-key or the TRIPBUNDLE_OPENAI_API_KEY and
TRIPBUNDLE_TAVILY_API_KEY variables; they are used for this run only.`,
	Example: `  tripbundle plan --file trip.yaml
  tripbundle plan --file trip.json --format markdown --objective comfort
  cat trip.yaml | tripbundle plan --file - --deny-domain pinterest.com`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := output.ParseFormat(planFormat)
	if err != nil {
		return err
	}

	data, err := readRequest(cmd.InOrStdin(), planFile)
	if err != nil {
		return err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: request is not valid YAML or JSON: %v", core.ErrInvalidRequest, err)
	}
	applyPlanFlags(raw)

	sub, err := intake.FromMap(raw)
	if err != nil {
		return err
	}
	creds := sub.Credentials
	if key := strings.TrimSpace(viper.GetString("plan.openai_key")); key != "" {
		creds.OpenAIAPIKey = key
	}
	if key := strings.TrimSpace(viper.GetString("plan.tavily_key")); key != "" {
		creds.TavilyAPIKey = key
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := observability.CLILogger
	p, err := buildPlanner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	logger.Debug("Planning trip",
		zap.String("origin", sub.Request.Origin),
		zap.Strings("destinations", sub.Request.Destinations),
		zap.Object("credentials", creds))

	result, err := p.Orchestrator.Orchestrate(ctx, &sub.Request, planAllowDomains, planDenyDomains, creds)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatPlan(result)
	if err != nil {
		return err
	}
	sink, err := openSink(planOut, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()
	_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
	return err
}

func readRequest(stdin io.Reader, path string) ([]byte, error) {
	switch path = strings.TrimSpace(path); path {
	case "":
		return nil, errors.New("--file is required (use - for stdin)")
	case "-":
		return io.ReadAll(stdin)
	default:
		data, err := os.ReadFile(path) // #nosec G304 -- request path is user-provided
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		return data, nil
	}
}

// applyPlanFlags layers --objective onto the request before validation so
// purpose inference sees it.
func applyPlanFlags(raw map[string]any) {
	objective := strings.TrimSpace(planObjective)
	if objective == "" {
		return
	}
	prefs, ok := raw["prefs"].(map[string]any)
	if !ok {
		prefs = map[string]any{}
		raw["prefs"] = prefs
	}
	prefs["objective"] = objective
	delete(raw, "objective")
}

func init() {
	rootCmd.AddCommand(planCmd)

	flags := planCmd.Flags()
	flags.StringVarP(&planFile, "file", "f", "", "trip request file (YAML or JSON; - for stdin)")
	flags.StringVar(&planFormat, "format", string(output.FormatTable), "output format: table|json|markdown")
	flags.StringVar(&planOut, "out", "", "write output to a file (default stdout)")
	flags.StringVar(&planObjective, "objective", "", "ranking objective: balanced|family_friendly|comfort|cheapest")
	flags.StringSliceVar(&planAllowDomains, "allow-domain", nil, "only use search results from these domains (repeatable)")
	flags.StringSliceVar(&planDenyDomains, "deny-domain", nil, "never use search results from these domains (repeatable)")
	flags.String("openai-key", "", "LLM API key for this run only")
	flags.String("tavily-key", "", "search API key for this run only")

	_ = viper.BindPFlag("plan.openai_key", flags.Lookup("openai-key"))
	_ = viper.BindPFlag("plan.tavily_key", flags.Lookup("tavily-key"))
	_ = viper.BindEnv("plan.openai_key", "TRIPBUNDLE_OPENAI_API_KEY")
	_ = viper.BindEnv("plan.tavily_key", "TRIPBUNDLE_TAVILY_API_KEY")
}
