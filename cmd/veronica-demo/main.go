// Command veronica-demo wires a single ExecutionContext over a fake LLM
// call, the way a caller would in production: a budget-bounded pipeline, a
// shield pipeline, an event bus writing to stdout and a hash-chained audit
// log, finishing with a compliance export payload. It exists to exercise
// the containment core end to end, not as a production entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/amabito/veronica-core-sub002/internal/audit"
	"github.com/amabito/veronica-core-sub002/internal/budgetbackend"
	"github.com/amabito/veronica-core-sub002/internal/compliance"
	"github.com/amabito/veronica-core-sub002/internal/eventbus"
	"github.com/amabito/veronica-core-sub002/internal/execctx"
	"github.com/amabito/veronica-core-sub002/internal/llmclient"
	"github.com/amabito/veronica-core-sub002/internal/safetypolicy"
	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
	"github.com/amabito/veronica-core-sub002/internal/scheduler"
	"github.com/amabito/veronica-core-sub002/internal/security"
	"github.com/amabito/veronica-core-sub002/internal/shield"
)

// echoClient is a fixture Client that never calls out to a real provider;
// it only exists so the demo can drive execctx.WrapLLMCall end to end.
type echoClient struct{}

func (echoClient) Generate(ctx context.Context, prompt string, options map[string]any) (string, error) {
	return "echo: " + prompt, nil
}

func main() {
	var maxCostUSD float64
	var auditPath string

	root := &cobra.Command{
		Use:   "veronica-demo",
		Short: "Runs one containment chain over a fake LLM call and prints its safety trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(maxCostUSD, auditPath)
		},
	}
	root.Flags().Float64Var(&maxCostUSD, "max-cost-usd", 0.50, "budget cap for the demo chain")
	root.Flags().StringVar(&auditPath, "audit-log", filepath.Join(os.TempDir(), "veronica-demo-audit.jsonl"), "path to the hash-chained audit log")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(maxCostUSD float64, auditPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	bus := eventbus.New(logger, eventbus.NewStdoutSink(os.Stdout, "info"))

	budget := safetypolicy.NewBudgetEnforcer(maxCostUSD)
	stepGuard := safetypolicy.NewAgentStepGuard(10)
	loopGuard := safetypolicy.NewSemanticLoopGuard(safetypolicy.SemanticLoopConfig{})
	retryContainer := safetypolicy.NewRetryContainer(safetypolicy.RetryConfig{RetryBudget: 2})
	pipeline := safetypolicy.NewPipeline(budget, stepGuard, loopGuard, retryContainer)
	shieldPipeline := shield.NewShieldPipeline()
	breaker := safetypolicy.NewCircuitBreaker(safetypolicy.CircuitBreakerConfig{
		FailureThreshold: 3,
		OpenDuration:     10 * time.Second,
	})

	chainID := uuid.NewString()
	requestID := uuid.NewString()

	ec, err := execctx.New(chainID, requestID, execctx.ExecutionConfig{
		MaxCostUSD:      maxCostUSD,
		MaxSteps:        10,
		MaxRetriesTotal: 2,
		TimeoutMS:       5000,
	}, pipeline, shieldPipeline, breaker, bus)
	if err != nil {
		return fmt.Errorf("bind execution context to chain: %w", err)
	}
	defer ec.Close()

	// Demonstrate the admission scheduler's starvation-promotion sweep
	// running on its own cron-driven cadence, independent of this chain.
	admission := scheduler.New(scheduler.Config{MaxInflightPerOrg: 4, MaxInflightPerTeam: 2})
	sweeper, err := scheduler.NewStarvationSweeper(admission, "@every 30s", 2*time.Minute, logger)
	if err != nil {
		return fmt.Errorf("build starvation sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()
	admission.Admit(scheduler.QueueEntry{Org: "demo-org", Team: "demo-team", StepID: chainID})

	client := llmclient.Client(echoClient{})
	localBudget := budgetbackend.NewLocalBackend()

	callCtx := safetytypes.ToolCallContext{
		RequestID: requestID,
		Model:     "demo-model",
		CostUSD:   0.01,
	}

	result, decision := ec.WrapLLMCall(context.Background(), callCtx, func(ctx context.Context) (execctx.CallResult, error) {
		text, err := client.Generate(ctx, "hello from veronica", nil)
		if err != nil {
			return execctx.CallResult{}, err
		}
		return execctx.CallResult{Output: text, CostUSD: 0.01}, nil
	}, execctx.WrapOptions{Retry: retryContainer})

	if _, err := localBudget.Add(0.01); err != nil {
		return fmt.Errorf("budget backend: %w", err)
	}

	fmt.Printf("decision=%s output=%v\n", decision, result.Output)

	chainLogger, err := audit.NewChainLogger(auditPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := chainLogger.Append("chain.completed", map[string]any{
		"chain_id": chainID,
		"decision": string(decision),
	}); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	verification, err := chainLogger.VerifyChain()
	if err != nil {
		return fmt.Errorf("verify audit chain: %w", err)
	}
	fmt.Printf("audit chain valid=%v (security_level=%s, safe_mode=%v)\n",
		verification.Valid, security.CurrentSecurityLevel(), security.SafeModeEnabled())

	snapshot := ec.Snapshot()
	startedAt := time.Now().Add(-time.Duration(snapshot.ElapsedMS) * time.Millisecond)
	payload, err := compliance.BuildPayload(snapshot, startedAt, compliance.ChainSummary{
		Service: "veronica-demo",
		Model:   "demo-model",
	})
	if err != nil {
		return fmt.Errorf("build compliance payload: %w", err)
	}
	fmt.Println(string(payload))

	return nil
}
