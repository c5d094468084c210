package db

import (
	"time"

	"github.com/quailsql/QuailDB/sql"
)

// Event describes one executed statement. Observers receive it after the
// statement has been applied, or has failed.
type Event struct {
	Statement sql.Statement
	Type      sql.StatementType
	Database  string
	Table     string
	Result    Result
	Err       error
	Duration  time.Duration
	Time      time.Time
}

// Succeeded reports whether the statement completed without error.
func (event Event) Succeeded() bool {
	return event.Err == nil
}

// Mutated reports whether the statement changed the registry.
func (event Event) Mutated() bool {
	if event.Err != nil {
		return false
	}
	result, ok := event.Result.(CommitResult)
	if !ok {
		return false
	}
	return result.DatabasesCreated+result.DatabasesDeleted+result.TablesCreated+
		result.TablesDeleted+result.TablesAltered+result.RecordsWritten+result.RecordsDeleted > 0
}

type Observer interface {
	Observe(event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event Event)

func (f ObserverFunc) Observe(event Event) {
	f(event)
}

// Observe registers an observer for every statement run by the engine.
// Subqueries are not reported.
func (engine *Engine) Observe(observer Observer) {
	if observer != nil {
		engine.observers = append(engine.observers, observer)
	}
}

func (engine *Engine) emit(event Event) {
	for _, observer := range engine.observers {
		observer.Observe(event)
	}
}

// Outcome is the result of one statement in a batch.
type Outcome struct {
	Statement sql.Statement
	Result    Result
	Err       error
}

// String renders the outcome as a single result line.
func (outcome Outcome) String() string {
	return Render(outcome.Result, outcome.Err)
}

// ExecuteBatch parses and runs each statement in order. A failing statement
// does not stop the ones after it.
func (engine *Engine) ExecuteBatch(queries []string) []Outcome {
	statements := make([]sql.Statement, len(queries))
	for i, query := range queries {
		statements[i] = sql.Parse(query)
	}
	return engine.RunProgram(statements)
}

// ExecuteScript splits a script into statements and runs them as a batch.
func (engine *Engine) ExecuteScript(script string) []Outcome {
	return engine.ExecuteBatch(sql.SplitStatements(script))
}

// RunProgram runs already parsed statements in order.
func (engine *Engine) RunProgram(statements []sql.Statement) []Outcome {
	outcomes := make([]Outcome, 0, len(statements))
	for _, statement := range statements {
		result, err := engine.Run(statement)
		outcomes = append(outcomes, Outcome{
			Statement: statement,
			Result:    result,
			Err:       err,
		})
	}
	return outcomes
}

// Errors returns the failed outcomes of a batch.
func Errors(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	return failed
}
