package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/query"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect and mutate graph nodes",
}

var (
	nodeCreateLabel string
	nodeCreateAttrs []string
)

var nodeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a node via the query executor's CREATE path",
	Args:  cobra.NoArgs,
	RunE:  runNodeCreate,
}

var nodeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one node from the materialized projection",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeGet,
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "Scan nodes, optionally filtered by type",
	Args:  cobra.NoArgs,
	RunE:  runNodeList,
}

var nodeListLabel string

func init() {
	nodeCreateCmd.Flags().StringVar(&nodeCreateLabel, "label", "", "Node type label")
	nodeCreateCmd.Flags().StringArrayVar(&nodeCreateAttrs, "attr", nil, "Attribute as key=value (repeatable)")
	nodeCreateCmd.MarkFlagRequired("label")

	nodeListCmd.Flags().StringVar(&nodeListLabel, "label", "", "Filter by node type")
}

// parseAttrs turns "k=v" pairs into the typed value grammar (§9):
// integers and floats parse as Number, "true"/"false" as Bool, anything
// else stays a String.
func parseAttrs(pairs []string) (map[string]cidkit.Value, error) {
	out := make(map[string]cidkit.Value, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --attr %q: want key=value", p)
		}
		out[k] = parseScalar(v)
	}
	return out, nil
}

func parseScalar(v string) cidkit.Value {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return cidkit.Int(i)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return cidkit.Float(f)
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return cidkit.Bool(b)
	}
	return cidkit.String(v)
}

func runNodeCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	attrs, err := parseAttrs(nodeCreateAttrs)
	if err != nil {
		return err
	}

	q := query.Query{Write: &query.WriteClause{Kind: query.WriteCreate, Label: nodeCreateLabel, Props: attrs}}
	planner := query.NewPlanner(nil)
	plan, err := planner.Plan(q)
	if err != nil {
		return err
	}
	res, err := eng.exec.Execute(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Printf("created (tx %s)\n", res.TxID)
	return nil
}

func runNodeGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	n, ok := eng.proj.GetNode(args[0])
	if !ok {
		fmt.Printf("node %s not found\n", args[0])
		return nil
	}
	fmt.Printf("id=%s kind=%s type=%s cid=%s\n", n.ID, n.Kind, n.Type, n.CID)
	for k, v := range n.Attributes.Entries {
		rendered, _ := cidkit.ToJSON(v)
		fmt.Printf("  %s = %v\n", k, rendered)
	}
	return nil
}

func runNodeList(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdCtx(cmd)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	nodes := eng.proj.ScanNodes(func(n graph.Node) bool {
		return nodeListLabel == "" || n.Type == nodeListLabel
	})
	for _, n := range nodes {
		fmt.Printf("%s\t%s\t%s\t%s\n", n.ID, n.Kind, n.Type, n.CID)
	}
	fmt.Printf("%d node(s)\n", len(nodes))
	return nil
}
