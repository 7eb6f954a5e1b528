package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenwave-io/greenwave/internal/roadnet"
)

var (
	intersectionsRoadnet     string
	intersectionsSkipVirtual bool
)

var intersectionsCmd = &cobra.Command{
	Use:   "intersections",
	Short: "List the intersections found in a roadnet file",
	Args:  cobra.NoArgs,
	RunE:  runIntersectionsList,
}

func init() {
	intersectionsCmd.Flags().StringVar(&intersectionsRoadnet, "roadnet", "", "CityFlow roadnet file (env GREENWAVE_ROADNET)")
	intersectionsCmd.Flags().BoolVar(&intersectionsSkipVirtual, "skip-virtual", false, "Ignore intersections marked virtual")
}

func runIntersectionsList(cmd *cobra.Command, args []string) error {
	path := envConfig.Roadnet
	if intersectionsRoadnet != "" {
		path = intersectionsRoadnet
	}

	ids, err := roadnet.LoadIntersectionIDs(path, roadnet.Options{SkipVirtual: intersectionsSkipVirtual})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No intersections in %s.\n", path)
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
