package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillmem/synapse/internal/graph"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Ingest a statement into the memory graph",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	text := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := rt.engine.Ingest(ctx, text, graph.SourceUser)
	if err != nil {
		return err
	}
	rt.engine.Drain()

	if len(ids) == 0 {
		fmt.Println("nothing stored (question or empty extraction)")
		return nil
	}
	for _, id := range ids {
		if n, ok := rt.engine.Store().Node(id); ok {
			fmt.Printf("  #%d %s = %q (salience %.2f)\n", n.ID, n.Label, n.Value, n.Salience)
		}
	}
	return nil
}
