package cmd

import (
	"fmt"

	"github.com/abhisek/sensei/internal/rubric"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.yaml>",
	Short: "Load a rubric catalog into the database",
	Long: "Seed replaces the stored goals with the catalog file. A catalog whose version\n" +
		"is older than the stored one is refused unless --force is given.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		out := cmd.OutOrStdout()

		s, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		catalog, err := rubric.LoadCatalogFile(args[0], cfg.Tutoring.CertificationPeriod())
		if err != nil {
			return err
		}
		for _, w := range catalog.Warnings() {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}

		ctx := cmd.Context()
		current, err := s.GoalRepo().CatalogVersion(ctx)
		if err != nil {
			return fmt.Errorf("read catalog version: %w", err)
		}
		if rubric.IsDowngrade(current, catalog.Version) && !force {
			return fmt.Errorf("catalog version %s is older than the stored %s (use --force to replace it)",
				catalog.Version, current)
		}

		if err := s.GoalRepo().SaveCatalog(ctx, catalog); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}

		items := 0
		for _, g := range catalog.Goals {
			items += len(g.Items)
		}
		fmt.Fprintf(out, "Seeded catalog %s: %d goals, %d items.\n", catalog.Version, len(catalog.Goals), items)
		return nil
	},
}

func init() {
	seedCmd.Flags().Bool("force", false, "Replace the stored catalog even when the file is older")
}
