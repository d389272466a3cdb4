package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/taskq/internal/metastore"
)

var (
	metaFormat  string
	metaVersion bool
)

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Inspect and sync the metadata document",
	Long: `The metadata document records dispatched tasks, pull requests and cost
per project. It lives in the configured backend (file, sqlite, git or memory)
and every write is a compare-and-swap on its version token.`,
}

var metaGetCmd = &cobra.Command{
	Use:   "get [project]",
	Short: "Print a project's metadata document",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMetaGet,
}

var metaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with a metadata document",
	Args:  cobra.NoArgs,
	RunE:  runMetaList,
}

var metaSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Record current task and pull request state",
	Long: `Reconcile the spec against all labelled pull requests (open, closed and
merged) and write the result to the metadata document. Nothing is written
when the document is already up to date.`,
	Args: cobra.NoArgs,
	RunE: runMetaSync,
}

func init() {
	metaGetCmd.Flags().StringVarP(&metaFormat, "format", "f", "json", "Output format: json or yaml")
	metaGetCmd.Flags().BoolVar(&metaVersion, "version", false, "Print the version token instead of the document")

	metaCmd.AddCommand(metaGetCmd)
	metaCmd.AddCommand(metaListCmd)
	metaCmd.AddCommand(metaSyncCmd)
}

func runMetaGet(cmd *cobra.Command, args []string) error {
	if metaFormat != "json" && metaFormat != "yaml" {
		return fmt.Errorf("unknown format %q (want json or yaml)", metaFormat)
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	project := a.cfg.Project.Name
	if len(args) > 0 {
		project = args[0]
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer closeStore()

	return showMetadata(cmd.Context(), cmd.OutOrStdout(), a.repository(store), project, metaFormat, metaVersion)
}

// showMetadata prints the project's document, or an empty one with an empty
// version when nothing has been recorded yet.
func showMetadata(ctx context.Context, w io.Writer, repo *metastore.Repository, project, format string, versionOnly bool) error {
	m, version, err := repo.LoadOrNew(ctx, project)
	if err != nil {
		return err
	}
	if versionOnly {
		fmt.Fprintln(w, version)
		return nil
	}
	return writeMetadata(w, m, format)
}

func writeMetadata(w io.Writer, m *metastore.Metadata, format string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if format == "yaml" {
		if data, err = jsonToYAML(data); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}

// jsonToYAML re-renders a JSON document as block-style YAML, keeping key
// order. JSON is valid YAML, so the node tree only needs its styles cleared.
func jsonToYAML(data []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	clearStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, fmt.Errorf("encode metadata as yaml: %w", err)
	}
	return out, nil
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}

func runMetaList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	store, closeStore, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer closeStore()

	projects, err := a.repository(store).Projects(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No metadata documents. Run 'taskq meta sync' to create one.")
		return nil
	}
	for _, p := range projects {
		fmt.Fprintln(out, p)
	}
	return nil
}

func runMetaSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp()
	if err != nil {
		return err
	}
	specText, err := a.readSpec()
	if err != nil {
		return err
	}
	prs, err := a.pullRequests(ctx, "all")
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer closeStore()
	logger, err := a.logger()
	if err != nil {
		return err
	}
	defer logger.Close()

	o, err := a.orchestrator(a.repository(store), logger)
	if err != nil {
		return err
	}
	m, err := o.SyncPullRequests(ctx, specText, prs)
	if err != nil {
		return err
	}

	cost := m.TotalCost()
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Synced %d tasks and %d pull requests (total cost $%.2f)",
		len(m.Tasks), len(m.PullRequests), cost.USD), color.FgGreen)
	return nil
}
