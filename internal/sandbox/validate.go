package sandbox

import "fmt"

// validateProgram walks a parsed Program and rejects constructs the parser's
// closed grammar lets through syntactically but that still violate the
// sandbox's semantic contract: wrong arity on a whitelisted call, a
// non-literal period/multiplier argument to an indicator, or a program with
// no signal clause at all (it could never trade).
func validateProgram(p *Program) error {
	var hasSignal bool
	for _, clause := range p.Clauses {
		if clause.Kind == ClauseBuyWhen || clause.Kind == ClauseSellWhen || clause.Kind == ClauseFlatWhen {
			hasSignal = true
		}
		if err := validateNode(clause.Value); err != nil {
			return err
		}
	}
	if !hasSignal {
		return &ValidationError{Reason: "no-signal-clause", Message: "strategy has no buy/sell/flat when clause"}
	}
	return nil
}

func validateNode(n Node) error {
	switch node := n.(type) {
	case *NumberLiteral, *Identifier, nil:
		return nil

	case *UnaryExpr:
		return validateNode(node.Operand)

	case *BinaryExpr:
		if err := validateNode(node.Left); err != nil {
			return err
		}
		return validateNode(node.Right)

	case *FunctionCall:
		return validateCall(node)
	}
	return &ValidationError{Reason: "unsupported-node", Message: fmt.Sprintf("unsupported node %T", n)}
}

func validateCall(call *FunctionCall) error {
	wantArity, ok := builtinArity[call.Name]
	if !ok {
		return &ValidationError{Reason: "forbidden-function", Message: fmt.Sprintf("function %q is not whitelisted", call.Name)}
	}
	if len(call.Args) != wantArity {
		return &ValidationError{Reason: "bad-arity", Message: fmt.Sprintf("%q expects %d argument(s), got %d", call.Name, wantArity, len(call.Args))}
	}

	if indicatorFuncs[call.Name] {
		// All period/multiplier arguments to indicator functions must be
		// number literals: the evaluator reads the literal value straight
		// off the node (mustConst) rather than evaluating an expression.
		start := 0
		if call.Name == "atr" || call.Name == "vwap" {
			start = 0
		} else {
			start = 1 // arg 0 is the implicit close-series placeholder
		}
		for i := start; i < len(call.Args); i++ {
			if _, ok := call.Args[i].(*NumberLiteral); !ok {
				return &ValidationError{Reason: "non-constant-argument", Message: fmt.Sprintf("%q argument %d must be a numeric literal", call.Name, i)}
			}
		}
		return nil
	}

	for _, arg := range call.Args {
		if err := validateNode(arg); err != nil {
			return err
		}
	}
	return nil
}
