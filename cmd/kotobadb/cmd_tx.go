package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect the transaction log's Merkle DAG",
}

var txHeadsCmd = &cobra.Command{
	Use:   "heads",
	Short: "List transactions with no descendant",
	Args:  cobra.NoArgs,
	RunE:  runTxHeads,
}

var txAncestorsCmd = &cobra.Command{
	Use:   "ancestors <id>",
	Short: "List every ancestor of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxAncestors,
}

var txDescendantsCmd = &cobra.Command{
	Use:   "descendants <id>",
	Short: "List every descendant of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxDescendants,
}

func runTxHeads(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	heads := eng.mgr.Log().Heads()
	for _, id := range heads {
		fmt.Println(id)
	}
	fmt.Printf("%d head(s)\n", len(heads))
	return nil
}

func runTxAncestors(cmd *cobra.Command, args []string) error {
	return printLineage(cmd, args[0], true)
}

func runTxDescendants(cmd *cobra.Command, args []string) error {
	return printLineage(cmd, args[0], false)
}

func printLineage(cmd *cobra.Command, id string, wantAncestors bool) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	log := eng.mgr.Log()
	if !log.Contains(id) {
		fmt.Printf("transaction %s not found\n", id)
		return nil
	}

	var ids []string
	if wantAncestors {
		ids = log.Ancestors(id)
	} else {
		ids = log.Descendants(id)
	}
	for _, tid := range ids {
		fmt.Println(tid)
	}
	fmt.Printf("%d transaction(s)\n", len(ids))
	return nil
}
