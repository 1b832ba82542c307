package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	queryMomentum float64
	queryStats    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve a context packet for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().Float64Var(&queryMomentum, "momentum", 0.5, "conversation momentum in [0,1]")
	queryCmd.Flags().BoolVar(&queryStats, "stats", false, "print engine stats after the query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	query := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := rt.engine.Retrieve(ctx, query, queryMomentum)
	if err != nil {
		return err
	}

	if res.Packet == "" {
		fmt.Println("no memories above threshold")
	} else {
		fmt.Println(res.Packet)
	}
	fmt.Printf("(%d nodes, ~%d tokens, domain %s)\n", len(res.Nodes), res.Tokens, res.Domain)

	if queryStats {
		st := rt.engine.Stats()
		fmt.Printf("nodes: %d  edges: %d  active: %d  drops: %d  read-only: %v\n",
			st.Graph.Nodes, st.Graph.Edges,
			st.Graph.ByStatus["active"],
			st.CorrelatorDrops, st.Graph.ReadOnly)
	}
	return nil
}
