package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type MigrateCmd struct{}

func NewMigrateCmd() *MigrateCmd {
	return &MigrateCmd{}
}

func (c *MigrateCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ingestion tables and register orbits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			orbits, err := cmd.Flags().GetIntSlice("orbits")
			if err != nil {
				return fmt.Errorf("failed to get orbits flag: %w", err)
			}
			st, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			if err := st.EnsureOrbits(cmd.Context(), orbits); err != nil {
				return err
			}
			if len(orbits) > 0 {
				g.log.Info("registered orbits", "orbits", orbits)
			}
			return nil
		},
	}
	cmd.Flags().IntSlice("orbits", nil, "orbit numbers to register")
	return cmd
}

type RemoveCmd struct{}

func NewRemoveCmd() *RemoveCmd {
	return &RemoveCmd{}
}

func (c *RemoveCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the lightcurves of stars in one orbit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			orbit, err := cmd.Flags().GetInt("orbit")
			if err != nil {
				return fmt.Errorf("failed to get orbit flag: %w", err)
			}
			tics, err := cmd.Flags().GetInt64Slice("tic")
			if err != nil {
				return fmt.Errorf("failed to get tic flag: %w", err)
			}
			if orbit <= 0 || len(tics) == 0 {
				return fmt.Errorf("--orbit and at least one --tic are required")
			}
			st, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer st.Close()

			best, arrays, err := st.RemoveLightcurves(cmd.Context(), orbit, tics)
			if err != nil {
				return err
			}
			g.log.Info("removed lightcurves", "orbit", orbit, "stars", len(tics), "best", best, "arrays", arrays)
			return nil
		},
	}
	cmd.Flags().Int("orbit", 0, "orbit number")
	cmd.Flags().Int64Slice("tic", nil, "tic id of a star to remove (repeatable)")
	return cmd
}

type ReportCmd struct{}

func NewReportCmd() *ReportCmd {
	return &ReportCmd{}
}

func (c *ReportCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show recorded ingestion throughput per unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			since, err := cmd.Flags().GetDuration("since")
			if err != nil {
				return fmt.Errorf("failed to get since flag: %w", err)
			}
			st, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer st.Close()

			summaries, err := st.OperationSummaries(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			renderOperations(cmd.OutOrStdout(), summaries)
			return nil
		},
	}
	cmd.Flags().Duration("since", 24*time.Hour, "only include operations started within this window")
	return cmd
}

func renderOperations(w io.Writer, summaries []store.OperationSummary) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Unit", "Operations", "Rows", "Seconds", "Rows/s"})
	for _, s := range summaries {
		table.Append([]string{
			s.Unit,
			strconv.FormatInt(s.Operations, 10),
			strconv.FormatInt(s.Rows, 10),
			strconv.FormatFloat(s.Seconds, 'f', 2, 64),
			strconv.FormatFloat(s.Throughput(), 'f', 1, 64),
		})
	}
	table.Render()
}
