package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// expressionSet compiles EXPRESSION conditions once and keeps the programs.
type expressionSet struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

func newExpressionSet() (*expressionSet, error) {
	// Variables mirror domain.TransactionStats.
	env, err := cel.NewEnv(
		cel.Variable("transaction_count", cel.IntType),
		cel.Variable("total_deposits", cel.DoubleType),
		cel.Variable("total_withdrawals", cel.DoubleType),
		cel.Variable("unique_products", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &expressionSet{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// program returns the compiled program for expr, compiling it on first use.
func (s *expressionSet) program(expr string) (cel.Program, error) {
	s.mu.RLock()
	prg, ok := s.programs[expr]
	s.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile expression: %v", domain.ErrMalformedCondition, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", domain.ErrMalformedCondition, ast.OutputType())
	}

	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program: %v", domain.ErrMalformedCondition, err)
	}

	s.mu.Lock()
	s.programs[expr] = prg
	s.mu.Unlock()

	return prg, nil
}

// eval runs expr against stats.
func (s *expressionSet) eval(expr string, stats *domain.TransactionStats) (bool, error) {
	prg, err := s.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"transaction_count": stats.TransactionCount,
		"total_deposits":    stats.TotalDeposits.InexactFloat64(),
		"total_withdrawals": stats.TotalWithdrawals.InexactFloat64(),
		"unique_products":   stats.UniqueProducts,
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation error: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: expression returned %v", domain.ErrMalformedCondition, out.Type())
	}
	return bool(b), nil
}

// size returns the number of compiled programs.
func (s *expressionSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.programs)
}
