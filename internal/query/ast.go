// Package query implements the graph query Planner and Executor (§4.8):
// an AST (MATCH/WHERE/WITH/GROUP BY/ORDER BY/LIMIT/RETURN plus DML
// CREATE/UPDATE/DELETE) compiled to an ExecutionPlan, interpreted
// against the projection engine for reads and against the storage/
// rewrite layers for writes. Grounded on the teacher's
// internal/mangle/engine.go compile-then-interpret shape (AST ->
// resolved program -> evaluation), re-expressed over property graphs
// instead of Datalog.
package query

import "github.com/kotobadb/core/internal/cidkit"

// Expr is the closed grammar of query expressions: a property
// reference, a literal, or a binary operation over two sub-expressions.
type Expr struct {
	Kind  ExprKind
	Var   string // Property/VarRef
	Prop  string // Property
	Lit   cidkit.Value
	Op    BinOp
	Left  *Expr
	Right *Expr
}

type ExprKind string

const (
	ExprProperty ExprKind = "property"
	ExprVarRef   ExprKind = "var_ref"
	ExprLiteral  ExprKind = "literal"
	ExprBinary   ExprKind = "binary"
)

type BinOp string

const (
	OpEq  BinOp = "="
	OpNeq BinOp = "!="
	OpLt  BinOp = "<"
	OpLte BinOp = "<="
	OpGt  BinOp = ">"
	OpGte BinOp = ">="
	OpAnd BinOp = "AND"
	OpOr  BinOp = "OR"
)

func Property(v, prop string) Expr { return Expr{Kind: ExprProperty, Var: v, Prop: prop} }
func VarRef(v string) Expr         { return Expr{Kind: ExprVarRef, Var: v} }
func Literal(v cidkit.Value) Expr  { return Expr{Kind: ExprLiteral, Lit: v} }
func Binary(op BinOp, l, r Expr) Expr {
	return Expr{Kind: ExprBinary, Op: op, Left: &l, Right: &r}
}

// NodePattern is one MATCH vertex: Var binds the matched node,
// Label constrains its Type, Props are equality filters folded directly
// into the scan (in addition to whatever WHERE adds later).
type NodePattern struct {
	Var   string
	Label string
	Props map[string]cidkit.Value
}

// EdgePattern is one MATCH hyperedge traversal: an edge of the given
// Label connecting FromVar (as FromRole, e.g. "source") to ToVar (as
// ToRole, e.g. "target"). EdgeVar, if non-empty, binds the edge itself.
type EdgePattern struct {
	EdgeVar            string
	Label              string
	FromVar, ToVar     string
	FromRole, ToRole   string
}

// MatchClause is a single MATCH: a chain of node and edge patterns, in
// the order a caller wrote them (e.g. "(a)-[e]->(b)").
type MatchClause struct {
	Nodes []NodePattern
	Edges []EdgePattern
}

type OrderItem struct {
	Expr       Expr
	Descending bool
}

// ReturnItem is one projected output column.
type ReturnItem struct {
	Alias string
	Expr  Expr
}

// WriteKind tags the DML verb a Query carries, if any.
type WriteKind string

const (
	WriteNone   WriteKind = ""
	WriteCreate WriteKind = "CREATE"
	WriteUpdate WriteKind = "UPDATE"
	WriteDelete WriteKind = "DELETE"
)

// WriteClause describes a CREATE/UPDATE/DELETE DML verb. Create builds a
// fresh node of Label with Props; Update/Delete target the node bound to
// TargetVar by an earlier MATCH, Update replacing its Props wholesale.
type WriteClause struct {
	Kind      WriteKind
	TargetVar string
	Label     string
	Props     map[string]cidkit.Value
}

// Query is the full AST for one statement.
type Query struct {
	Match   []MatchClause
	Where   *Expr
	GroupBy []Expr
	OrderBy []OrderItem
	Limit   *int
	Distinct bool
	Return  []ReturnItem
	Write   *WriteClause
}
