package facts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Telemetry predicates emitted by the engine pipeline.
const (
	PredMutationEvent      = "mutation_event"      // (kind, detail)
	PredScanEmission       = "scan_emission"       // (reason)
	PredTriggerEvent       = "trigger_event"       // (target, action, saved_ms)
	PredDedupRejected      = "dedup_rejected"      // (target, action)
	PredRoiSample          = "roi_sample"          // (action, mode, cost_ms)
	PredAcceptanceRecorded = "acceptance_recorded" // (target, action, added, deleted)
)

// DefaultBufferLimit bounds the temporal fact buffer.
const DefaultBufferLimit = 5000

// Fact is one normalized telemetry event.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to fact values.
type QueryResult map[string]interface{}

// Config controls the fact engine.
type Config struct {
	Enable      bool
	SchemaPath  string
	BufferLimit int
}

// Engine buffers telemetry facts and, when a Mangle schema is loaded, feeds
// them into a deductive store so operators can run Datalog queries over the
// pipeline's recent history.
type Engine struct {
	cfg          Config
	mu           sync.RWMutex
	schemaLoaded bool

	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	// Temporal buffer plus a predicate index for O(m) lookups.
	facts []Fact
	index map[string][]int
}

// NewEngine builds the engine and loads the schema if one is configured.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = DefaultBufferLimit
	}
	e := &Engine{
		cfg:   cfg,
		facts: make([]Fact, 0, cfg.BufferLimit),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}
	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSchema parses and analyzes a Mangle schema file.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// Record is a convenience wrapper for emitting a single fact now.
func (e *Engine) Record(ctx context.Context, predicate string, args ...interface{}) {
	_ = e.AddFacts(ctx, []Fact{{Predicate: predicate, Args: args, Timestamp: time.Now()}})
}

// AddFacts appends facts to the temporal buffer and, when a schema is loaded,
// to the Mangle store followed by an incremental evaluation pass.
func (e *Engine) AddFacts(ctx context.Context, batch []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, batch...)
	if len(e.facts) > e.cfg.BufferLimit {
		e.facts = e.facts[len(e.facts)-e.cfg.BufferLimit:]
		e.rebuildIndexLocked()
	} else {
		for i, f := range batch {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range batch {
		e.store.Add(factToAtom(f))
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}
	return nil
}

// Query parses a Mangle query atom and returns every satisfying variable
// binding. Facts absent from the store fall back to a direct buffer scan.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable {
		return nil, fmt.Errorf("fact engine disabled")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if varArg, ok := arg.(ast.Variable); ok {
				result[varArg.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if len(results) == 0 {
		results = append(results, e.queryBufferLocked(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}
	return results, nil
}

// queryBufferLocked matches the query pattern against the temporal buffer.
// Caller holds e.mu read lock.
func (e *Engine) queryBufferLocked(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if len(queryArgs) > 0 && len(f.Args) < len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true
		for i, qArg := range queryArgs {
			if i >= len(f.Args) {
				break
			}
			if varArg, ok := qArg.(ast.Variable); ok {
				result[varArg.Symbol] = f.Args[i]
			} else if constArg, ok := qArg.(ast.Constant); ok {
				if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", convertConstant(constArg)) {
					matches = false
					break
				}
			}
		}
		if matches {
			results = append(results, result)
		}
	}
	return results
}

// QueryTemporal returns buffered facts for a predicate within a time window.
// Zero bounds are open-ended.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns all buffered facts for a predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		results = append(results, e.facts[idx])
	}
	return results
}

// Len returns the number of buffered facts.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.facts)
}

// Enabled reports whether the engine accepts facts.
func (e *Engine) Enabled() bool {
	return e.cfg.Enable
}

func (e *Engine) rebuildIndexLocked() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}
