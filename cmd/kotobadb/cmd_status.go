package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status: db path, tx log heads, node/edge counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	log := eng.mgr.Log()
	nodes := eng.proj.ScanNodes(nil)
	edges := eng.proj.ScanEdges(nil)

	fmt.Println("kotobadb status")
	fmt.Println("===============")
	fmt.Printf("db path:       %s\n", dbPath)
	fmt.Printf("tx log heads:  %d\n", len(log.Heads()))
	fmt.Printf("last applied:  %s\n", eng.proj.LastApplied())
	fmt.Printf("nodes:         %d\n", len(nodes))
	fmt.Printf("edges:         %d\n", len(edges))
	return nil
}
