package sandbox

// Node is any expression node in a compiled strategy's abstract syntax tree.
type Node interface {
	node()
}

// NumberLiteral is a bare numeric constant.
type NumberLiteral struct {
	Value float64
}

func (*NumberLiteral) node() {}

// Identifier references a bar column (close, open, high, low, volume) or a
// per-instrument state slot (state.<name>).
type Identifier struct {
	Name string
}

func (*Identifier) node() {}

// FunctionCall invokes a whitelisted builtin with evaluated arguments.
type FunctionCall struct {
	Name string
	Args []Node
}

func (*FunctionCall) node() {}

// BinaryExpr is a binary arithmetic, comparison, or logical operation.
type BinaryExpr struct {
	Op    TokenType
	Left  Node
	Right Node
}

func (*BinaryExpr) node() {}

// UnaryExpr is a unary negation or logical NOT.
type UnaryExpr struct {
	Op      TokenType
	Operand Node
}

func (*UnaryExpr) node() {}

// Assignment is a `state.<name> = <expr>` clause.
type Assignment struct {
	Target string // the state slot name, without the "state." prefix
	Value  Node
}

// Clause is one line of a compiled strategy: either a state assignment, a
// signal rule (buy/sell/flat when <expr>), or a static bracket clause.
type Clause struct {
	Kind  ClauseKind
	Value Node    // condition expression for signal rules, value expression for state/bracket
	State string  // state slot name, for StateAssignment
}

// ClauseKind enumerates the statement kinds the grammar accepts.
type ClauseKind int

const (
	ClauseStateAssignment ClauseKind = iota
	ClauseBuyWhen
	ClauseSellWhen
	ClauseFlatWhen
	ClauseStopLoss
	ClauseTakeProfit
)

// Program is a fully parsed strategy: an ordered list of clauses evaluated
// top-to-bottom once per bar.
type Program struct {
	Clauses []Clause
}
