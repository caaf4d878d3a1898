// Package errors provides coded, actionable error messages for scopebind
// tooling.
//
// Library packages return plain sentinel errors. This package is used at
// the edges (configuration loading, scenario scripts, the hub protocol and
// the CLI) where an error needs a stable code, a short explanation and a
// hint.
//
// # Error Categories
//
//   - lifecycle: binding and tree misuse (E001-E019)
//   - config: configuration file errors (E100-E119)
//   - protocol: hub websocket protocol errors (E200-E219)
//   - scenario: scenario script errors (E300-E319)
//   - cli: command-line usage errors (E400-E419)
//
// # Usage
//
//	err := errors.New("E301").
//	    WithLocation("leak.yaml", 12, 5).
//	    WithDetail(`node "panel" is not declared`).
//	    WithSuggestion("Declare the node in an earlier step")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E301: Unknown node
//	//
//	//   leak.yaml:12:5
//	//
//	//   node "panel" is not declared
//	//
//	//   Hint: Declare the node in an earlier step
package errors
